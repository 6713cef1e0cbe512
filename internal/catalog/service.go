// Package catalog is the application layer over one category forest. It
// pairs category rows with a tree index, serializes mutations through a
// lock, and reports every committed change as a subscription event.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/systemshift/cattree/internal/lock"
	"github.com/systemshift/cattree/internal/server/subscriptions"
	"github.com/systemshift/cattree/internal/store"
	"github.com/systemshift/cattree/internal/tree"
)

// ErrInvalidName is returned for an empty or oversized category name.
var ErrInvalidName = errors.New("invalid category name")

// Item is an indexed category with its name.
type Item struct {
	tree.Entry
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Service runs category operations against one store and one index.
type Service struct {
	store    store.Store
	index    tree.Index
	locker   lock.Locker
	emit     subscriptions.EventEmitter
	validate *validator.Validate
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLocker sets the lock used to serialize mutations. The default is an
// in-process lock.
func WithLocker(l lock.Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithEmitter sets the function that receives committed changes.
func WithEmitter(emit subscriptions.EventEmitter) Option {
	return func(s *Service) { s.emit = emit }
}

// New creates a Service over st, maintaining the forest with ix.
func New(st store.Store, ix tree.Index, opts ...Option) *Service {
	s := &Service{
		store:    st,
		index:    ix,
		locker:   lock.NewLocal(),
		validate: validator.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEmitter replaces the event emitter. It must be called before the
// service is shared.
func (s *Service) SetEmitter(emit subscriptions.EventEmitter) {
	s.emit = emit
}

// Kind returns the encoding of the index this service maintains.
func (s *Service) Kind() tree.Kind {
	return s.index.Kind()
}

// Add creates a category named name under parent, or as a root when parent
// is nil.
func (s *Service) Add(ctx context.Context, parent *int64, name string) (*store.Category, error) {
	if err := s.validate.Var(name, "required,max=200"); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidName, err)
	}

	cat := &store.Category{Name: name, Slug: Slugify(name)}
	err := s.mutate(ctx, "add", func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertCategory(ctx, cat); err != nil {
			return err
		}
		return s.index.Insert(ctx, tx, parent, cat.ID)
	})
	if err != nil {
		return nil, err
	}

	s.publish(subscriptions.Event{
		Type:       subscriptions.EventCategoryCreated,
		CategoryID: cat.ID,
		Name:       cat.Name,
		Slug:       cat.Slug,
		ParentID:   parent,
	})
	return cat, nil
}

// Delete removes a category. Its children move up to its parent.
func (s *Service) Delete(ctx context.Context, id int64) error {
	var (
		cat    *store.Category
		parent *int64
	)
	err := s.mutate(ctx, "delete", func(ctx context.Context, tx store.Tx) error {
		e, err := s.entry(ctx, tx, id)
		if err != nil {
			return err
		}
		parent = e.ParentID
		if cat, err = tx.GetCategory(ctx, id); err != nil {
			return err
		}
		if err := s.index.Delete(ctx, tx, id); err != nil {
			return err
		}
		_, err = tx.DeleteCategory(ctx, id)
		return err
	})
	if err != nil {
		return err
	}

	s.publish(subscriptions.Event{
		Type:       subscriptions.EventCategoryDeleted,
		CategoryID: id,
		Name:       cat.Name,
		Slug:       cat.Slug,
		ParentID:   parent,
	})
	return nil
}

// Move relocates a single category under parent. Its children stay where
// they are, adopted by its old parent.
func (s *Service) Move(ctx context.Context, id int64, parent *int64) error {
	return s.relocate(ctx, "move", subscriptions.EventCategoryMoved, id, parent, s.index.Move)
}

// MoveSubtree relocates a category together with its descendants.
func (s *Service) MoveSubtree(ctx context.Context, id int64, parent *int64) error {
	return s.relocate(ctx, "move_subtree", subscriptions.EventCategorySubtreeMoved, id, parent, s.index.MoveSubtree)
}

type moveFunc func(ctx context.Context, tx store.Tx, id int64, parent *int64) error

func (s *Service) relocate(ctx context.Context, op, eventType string, id int64, parent *int64, move moveFunc) error {
	var (
		cat *store.Category
		old *int64
	)
	err := s.mutate(ctx, op, func(ctx context.Context, tx store.Tx) error {
		e, err := s.entry(ctx, tx, id)
		if err != nil {
			return err
		}
		old = e.ParentID
		if cat, err = tx.GetCategory(ctx, id); err != nil {
			return err
		}
		return move(ctx, tx, id, parent)
	})
	if err != nil {
		return err
	}
	if sameParent(old, parent) {
		return nil
	}

	s.publish(subscriptions.Event{
		Type:        eventType,
		CategoryID:  id,
		Name:        cat.Name,
		Slug:        cat.Slug,
		ParentID:    parent,
		OldParentID: old,
	})
	return nil
}

// Rebuild replaces this service's index rows with the forest encoded by
// from. Categories are untouched.
func (s *Service) Rebuild(ctx context.Context, from tree.Index) error {
	return s.mutate(ctx, "rebuild", func(ctx context.Context, tx store.Tx) error {
		return tree.Rebuild(ctx, tx, from, s.index)
	})
}

// Tree returns the whole labeled forest.
func (s *Service) Tree(ctx context.Context) (*tree.Forest, error) {
	var f *tree.Forest
	err := s.view(ctx, "tree", func(ctx context.Context, tx store.Tx) error {
		entries, err := s.index.Forest(ctx, tx)
		if err != nil {
			return err
		}
		f, err = s.label(ctx, tx, entries)
		return err
	})
	return f, err
}

// Subtree returns id and everything below it.
func (s *Service) Subtree(ctx context.Context, id int64) (*tree.Forest, error) {
	var f *tree.Forest
	err := s.view(ctx, "subtree", func(ctx context.Context, tx store.Tx) error {
		entries, err := s.index.Subtree(ctx, tx, id)
		if err != nil {
			return err
		}
		f, err = s.label(ctx, tx, entries)
		return err
	})
	return f, err
}

// Path returns the ancestors of id and id itself, root first.
func (s *Service) Path(ctx context.Context, id int64) ([]Item, error) {
	var items []Item
	err := s.view(ctx, "path", func(ctx context.Context, tx store.Tx) error {
		entries, err := s.index.Path(ctx, tx, id)
		if err != nil {
			return err
		}
		items, err = s.items(ctx, tx, entries)
		return err
	})
	return items, err
}

// Leaves returns every category without children.
func (s *Service) Leaves(ctx context.Context) ([]Item, error) {
	var items []Item
	err := s.view(ctx, "leaves", func(ctx context.Context, tx store.Tx) error {
		entries, err := s.index.Leaves(ctx, tx)
		if err != nil {
			return err
		}
		items, err = s.items(ctx, tx, entries)
		return err
	})
	return items, err
}

// Category returns one category row.
func (s *Service) Category(ctx context.Context, id int64) (*store.Category, error) {
	var cat *store.Category
	err := s.view(ctx, "category", func(ctx context.Context, tx store.Tx) error {
		var err error
		cat, err = tx.GetCategory(ctx, id)
		return err
	})
	return cat, err
}

// IsAncestor reports whether a is a strict ancestor of d.
func (s *Service) IsAncestor(ctx context.Context, a, d int64) (bool, error) {
	var ok bool
	err := s.view(ctx, "is_ancestor", func(ctx context.Context, tx store.Tx) error {
		var err error
		ok, err = s.index.IsAncestor(ctx, tx, a, d)
		return err
	})
	return ok, err
}

// Check verifies the index invariants. A violation is reported as a
// *tree.InvariantError.
func (s *Service) Check(ctx context.Context) error {
	return s.view(ctx, "check", func(ctx context.Context, tx store.Tx) error {
		return s.index.Check(ctx, tx)
	})
}

// mutate runs fn in one write transaction while holding the forest lock.
func (s *Service) mutate(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) (err error) {
	kind := string(s.index.Kind())
	ctx, span := tracer.Start(ctx, "catalog."+op,
		trace.WithAttributes(
			attribute.String("cattree.index", kind),
			attribute.String("cattree.op", op),
		),
	)
	defer span.End()

	defer func() {
		mutationsTotal.WithLabelValues(kind, op, result(err)).Inc()
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	waitStart := time.Now()
	release, err := s.locker.Lock(ctx, "cattree:"+kind)
	if err != nil {
		return &tree.StoreError{Op: op, Err: fmt.Errorf("acquiring forest lock: %w", err)}
	}
	lockWait.WithLabelValues(kind).Observe(time.Since(waitStart).Seconds())
	defer func() {
		if rerr := release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("releasing forest lock",
				slog.String("index", kind),
				slog.String("error", rerr.Error()),
			)
		}
	}()

	start := time.Now()
	err = tree.Classify(op, s.store.Update(ctx, func(tx store.Tx) error {
		return fn(ctx, tx)
	}))
	elapsed := time.Since(start)
	mutationDuration.WithLabelValues(kind, op).Observe(elapsed.Seconds())

	if err != nil {
		s.logger.Warn("mutation failed",
			slog.String("index", kind),
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return err
	}
	s.logger.Debug("mutation committed",
		slog.String("index", kind),
		slog.String("op", op),
		slog.Duration("elapsed", elapsed),
	)
	return nil
}

// view runs fn in a read transaction.
func (s *Service) view(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	ctx, span := tracer.Start(ctx, "catalog."+op,
		trace.WithAttributes(attribute.String("cattree.index", string(s.index.Kind()))),
	)
	defer span.End()

	err := tree.Classify(op, s.store.View(ctx, func(tx store.Tx) error {
		return fn(ctx, tx)
	}))
	if err != nil && !errors.Is(err, tree.ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// entry returns the index entry of id.
func (s *Service) entry(ctx context.Context, tx store.Tx, id int64) (tree.Entry, error) {
	path, err := s.index.Path(ctx, tx, id)
	if err != nil {
		return tree.Entry{}, err
	}
	return path[len(path)-1], nil
}

func (s *Service) label(ctx context.Context, tx store.Tx, entries []tree.Entry) (*tree.Forest, error) {
	f := tree.Assemble(entries)
	if f.Len() == 0 {
		return f, nil
	}
	cats, err := tx.Categories(ctx, f.IDs())
	if err != nil {
		return nil, err
	}
	f.Label(cats)
	return f, nil
}

func (s *Service) items(ctx context.Context, tx store.Tx, entries []tree.Entry) ([]Item, error) {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	cats, err := tx.Categories(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]store.Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}

	items := make([]Item, len(entries))
	for i, e := range entries {
		c := byID[e.ID]
		items[i] = Item{Entry: e, Name: c.Name, Slug: c.Slug}
	}
	return items, nil
}

func (s *Service) publish(ev subscriptions.Event) {
	if s.emit == nil {
		return
	}
	ev.Index = string(s.index.Kind())
	s.emit(ev)
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
