package deck

import (
	"context"
	"sync"

	"github.com/leitnerhq/leitner/internal/schema"
	"github.com/leitnerhq/leitner/internal/store"
)

// Repository serves deck tree snapshots on top of the store, rebuilding
// only when a relevant row actually changed.
//
// Invalidation is driven by the store's change feed: any committed deck or
// card mutation, local or pulled, bumps a generation counter, and the next
// Tree call fetches fresh rows. Callers may hold a returned *Tree as long
// as they like; it is an immutable snapshot.
type Repository struct {
	store *store.Store

	mu       sync.Mutex
	tree     *Tree
	gen      uint64
	builtGen uint64

	changes <-chan store.Change
	done    chan struct{}
}

// NewRepository creates a repository over the given store.
// Call Start to enable change-driven invalidation.
func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s}
}

// Start subscribes to the store change feed. Without it every Tree call
// serves the first snapshot forever, so callers that mutate data should
// always start the repository.
func (r *Repository) Start(ctx context.Context) {
	r.changes = r.store.Watch()
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		for {
			select {
			case c, ok := <-r.changes:
				if !ok {
					return
				}
				if c.Table == schema.TableDecks || c.Table == schema.TableCards {
					r.invalidate()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop unsubscribes from the store and waits for the watch loop to exit.
func (r *Repository) Stop() {
	if r.changes == nil {
		return
	}
	r.store.Unwatch(r.changes)
	<-r.done
}

func (r *Repository) invalidate() {
	r.mu.Lock()
	r.gen++
	r.mu.Unlock()
}

// Tree returns the current hierarchy, rebuilding from the store if any
// deck or card changed since the last build.
func (r *Repository) Tree(ctx context.Context) (*Tree, error) {
	r.mu.Lock()
	if r.tree != nil && r.builtGen == r.gen {
		t := r.tree
		r.mu.Unlock()
		return t, nil
	}
	gen := r.gen
	r.mu.Unlock()

	decks, err := r.store.ListDecks(ctx)
	if err != nil {
		return nil, err
	}
	cards, err := r.store.ListCards(ctx, store.CardFilter{})
	if err != nil {
		return nil, err
	}
	t := Build(decks, cards)

	r.mu.Lock()
	// A change may have landed mid-fetch; only cache when the snapshot is
	// still current.
	if r.gen == gen {
		r.tree = t
		r.builtGen = gen
	}
	r.mu.Unlock()
	return t, nil
}
