// Package replies links reply messages to their parents by protocol packet
// id, tolerating out-of-order arrival.
package replies

import "github.com/meshlog/meshlog/internal/store"

// Storage is the slice of the persistent store the resolver needs.
type Storage interface {
	InsertReplyRef(replyID, parentPacketID int64, ts float64) (*int64, error)
	ReplyRefFor(replyID int64) (*store.ReplyRef, error)
	ReplyRefsForAll(messageIDs []int64) (map[int64]store.ReplyRef, error)
	ParentMessage(replyID int64) (*store.Message, error)
}

// Resolver creates and reads reply links.
type Resolver struct {
	storage Storage
}

// NewResolver creates a resolver over storage.
func NewResolver(storage Storage) *Resolver {
	return &Resolver{storage: storage}
}

// Link records that the stored message replyID replies to the packet with
// protocol id parentPacketID. When the parent is already durable the link is
// resolved immediately and its database id returned; otherwise the link is
// stored unresolved and nil returned — the parent may still arrive, mesh
// delivery is not ordered.
func (r *Resolver) Link(replyID, parentPacketID int64, ts float64) (*int64, error) {
	return r.storage.InsertReplyRef(replyID, parentPacketID, ts)
}

// Resolve returns the reply link for a message, or nil when the message is
// not a reply.
func (r *Resolver) Resolve(replyID int64) (*store.ReplyRef, error) {
	return r.storage.ReplyRefFor(replyID)
}

// ForAll returns reply links for a page of messages in one query.
func (r *Resolver) ForAll(messageIDs []int64) (map[int64]store.ReplyRef, error) {
	return r.storage.ReplyRefsForAll(messageIDs)
}

// ParentOf returns the parent message of a reply, or nil when unknown. The
// resolved database id is preferred; otherwise the protocol id is looked up
// again, which picks up parents that arrived after the link was created
// without needing a background resolver pass.
func (r *Resolver) ParentOf(replyID int64) (*store.Message, error) {
	return r.storage.ParentMessage(replyID)
}
