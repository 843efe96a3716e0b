package firestore

import (
	"context"
)

// Watch listens to a collection query and calls emit with the full decoded
// result set on every change. It blocks until ctx ends (returning nil) or the
// listener fails.
func (r *BaseRepository[T]) Watch(ctx context.Context, build QueryBuilder, emit func([]Document[T])) error {
	query, err := r.query(ctx, build)
	if err != nil {
		return err
	}
	iter := query.Snapshots(ctx)
	defer iter.Stop()

	for {
		qs, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return WrapError(r.op("watch"), err)
		}
		snaps, err := qs.Documents.GetAll()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return WrapError(r.op("watch"), err)
		}
		docs := make([]Document[T], 0, len(snaps))
		for _, snap := range snaps {
			doc, err := Decode[T](snap)
			if err != nil {
				return err
			}
			docs = append(docs, doc)
		}
		emit(docs)
	}
}

// WatchDocument listens to a single document. emit receives exists=false while
// the document is absent.
func (r *BaseRepository[T]) WatchDocument(ctx context.Context, id string, emit func(doc Document[T], exists bool)) error {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	iter := ref.Snapshots(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return WrapError(r.op("watch_document"), err)
		}
		if !snap.Exists() {
			emit(Document[T]{ID: id}, false)
			continue
		}
		doc, err := Decode[T](snap)
		if err != nil {
			return err
		}
		emit(doc, true)
	}
}
