package keep_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keep"
	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/query"
	"go.trai.ch/keep/store"
	"go.trai.ch/keep/store/mocks"
	"go.trai.ch/zerr"
	"go.uber.org/mock/gomock"
)

type author struct {
	ID    string
	Name  string
	Books []*book
}

type book struct {
	ID       string
	AuthorID string
	Title    string
}

func authorBinding() *entity.Binding[author] {
	return entity.Bind[author]("authors").
		Key(func(a *author) entity.Key { return entity.NewKey(a.ID) }).
		Field("id", func(a *author) any { return a.ID }, func(a *author, v any) { a.ID = v.(string) }).
		Field("name", func(a *author) any { return a.Name }, func(a *author, v any) { a.Name = v.(string) }).
		HasMany("books", "books",
			entity.ChildRef(func(b *book) (entity.Key, bool) {
				return entity.NewKey(b.AuthorID), b.AuthorID != ""
			}),
			entity.AttachMany(func(a *author, bs []*book) { a.Books = bs }),
			entity.OnDelete(entity.CascadeDelete),
		)
}

func bookBinding() *entity.Binding[book] {
	return entity.Bind[book]("books").
		Key(func(b *book) entity.Key { return entity.NewKey(b.ID) }).
		Field("id", func(b *book) any { return b.ID }, func(b *book, v any) { b.ID = v.(string) }).
		Field("author_id", func(b *book) any { return b.AuthorID }, func(b *book, v any) { b.AuthorID = v.(string) }).
		Field("title", func(b *book) any { return b.Title }, func(b *book, v any) { b.Title = v.(string) }).
		HasOne("author", "authors",
			func(b *book) (entity.Key, bool) { return entity.NewKey(b.AuthorID), b.AuthorID != "" },
			nil,
		)
}

func newRegistry(t *testing.T) *entity.Registry {
	t.Helper()
	reg := entity.NewRegistry()
	require.NoError(t, reg.Register(authorBinding()))
	require.NoError(t, reg.Register(bookBinding()))
	return reg
}

func newSession(t *testing.T) (*keep.Session, *mocks.MockStore) {
	t.Helper()
	ctrl := gomock.NewController(t)
	st := mocks.NewMockStore(ctrl)
	return keep.NewSession(st, newRegistry(t)), st
}

func notFound(typeName string, key entity.Key) error {
	return entity.Annotate(entity.ErrNotFound, "entity", typeName, "key", key.String())
}

func TestRepositoryFor(t *testing.T) {
	t.Parallel()

	t.Run("same instance per type", func(t *testing.T) {
		t.Parallel()
		s, _ := newSession(t)
		r1, err := keep.RepositoryFor[author](s)
		require.NoError(t, err)
		r2, err := keep.RepositoryFor[author](s)
		require.NoError(t, err)
		assert.Same(t, r1, r2)

		r3, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)
		assert.NotNil(t, r3)
	})

	t.Run("unbound type", func(t *testing.T) {
		t.Parallel()
		s, _ := newSession(t)
		type stranger struct{ ID string }
		_, err := keep.RepositoryFor[stranger](s)
		require.ErrorIs(t, err, entity.ErrTypeNotBound)
	})

	t.Run("closed session", func(t *testing.T) {
		t.Parallel()
		s, _ := newSession(t)
		require.NoError(t, s.Close())
		_, err := keep.RepositoryFor[author](s)
		require.ErrorIs(t, err, entity.ErrSessionDisposed)
	})
}

func TestGetByID(t *testing.T) {
	t.Parallel()

	t.Run("miss reads store once", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[author](s)
		require.NoError(t, err)

		key := entity.NewKey("a1")
		st.EXPECT().Get(gomock.Any(), "authors", key).
			Return(&author{ID: "a1", Name: "ada"}, nil).
			Times(1)

		got, err := repo.GetByID(context.Background(), key)
		require.NoError(t, err)
		assert.Equal(t, "ada", got.Name)
		assert.Equal(t, entity.StateUnchanged, repo.StateOf(got))

		// The identity map answers the second lookup.
		again, err := repo.GetByID(context.Background(), key)
		require.NoError(t, err)
		assert.Same(t, got, again)
	})

	t.Run("absent key leaves no entry", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[author](s)
		require.NoError(t, err)

		key := entity.NewKey("ghost")
		st.EXPECT().Get(gomock.Any(), "authors", key).Return(nil, notFound("authors", key))

		_, err = repo.GetByID(context.Background(), key)
		require.ErrorIs(t, err, entity.ErrNotFound)
		assert.Zero(t, s.Tracked())
	})

	t.Run("deleted instance reads as gone", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[author](s)
		require.NoError(t, err)

		key := entity.NewKey("a1")
		st.EXPECT().Get(gomock.Any(), "authors", key).Return(&author{ID: "a1"}, nil).Times(1)
		got, err := repo.GetByID(context.Background(), key)
		require.NoError(t, err)
		require.NoError(t, repo.Remove(context.Background(), got))

		_, err = repo.GetByID(context.Background(), key)
		require.ErrorIs(t, err, entity.ErrNotFound)
	})
}

func TestQuery(t *testing.T) {
	t.Parallel()

	t.Run("results are tracked", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		st.EXPECT().Query(gomock.Any(), gomock.Any()).
			Return([]any{&book{ID: "b1", Title: "first"}, &book{ID: "b2", Title: "second"}}, nil)

		got, err := repo.Query(context.Background(), query.All[book]())
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, 2, s.Tracked())
		assert.Equal(t, entity.StateUnchanged, repo.StateOf(got[0]))
	})

	t.Run("tracked keys keep their instance", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		key := entity.NewKey("b1")
		tracked := &book{ID: "b1", Title: "mine"}
		st.EXPECT().Get(gomock.Any(), "books", key).Return(tracked, nil)
		first, err := repo.GetByID(context.Background(), key)
		require.NoError(t, err)

		// The store hands back a fresh copy of b1; the session's instance wins.
		st.EXPECT().Query(gomock.Any(), gomock.Any()).
			Return([]any{&book{ID: "b1", Title: "stale"}, &book{ID: "b2"}}, nil)

		got, err := repo.Query(context.Background(), query.All[book]())
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Same(t, first, got[0])
		assert.Equal(t, "mine", got[0].Title)
	})

	t.Run("no-tracking bypasses the identity map", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		st.EXPECT().Query(gomock.Any(), gomock.Any()).
			Return([]any{&book{ID: "b1"}}, nil)

		got, err := repo.Query(context.Background(), query.All[book]().NoTracking())
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Zero(t, s.Tracked())
		assert.Equal(t, entity.StateDetached, repo.StateOf(got[0]))
	})

	t.Run("paging without ordering never reaches the store", func(t *testing.T) {
		t.Parallel()
		s, _ := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		_, err = repo.Query(context.Background(), query.All[book]().Page(0, 10))
		require.ErrorIs(t, err, entity.ErrAmbiguousPaging)
	})
}

func TestUpdate(t *testing.T) {
	t.Parallel()

	t.Run("tracked instance becomes modified", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		key := entity.NewKey("b1")
		st.EXPECT().Get(gomock.Any(), "books", key).Return(&book{ID: "b1", Title: "old"}, nil)
		got, err := repo.GetByID(context.Background(), key)
		require.NoError(t, err)

		got.Title = "new"
		require.NoError(t, repo.Update(got))
		assert.Equal(t, entity.StateModified, repo.StateOf(got))
	})

	t.Run("untracked instance is attached with full overwrite", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		require.NoError(t, repo.Update(&book{ID: "b1", Title: "imported"}))

		var batch store.Batch
		st.EXPECT().ExecuteBatch(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, b store.Batch) error {
				batch = b
				return nil
			})
		require.NoError(t, s.Commit(context.Background()))
		require.Len(t, batch.Writes, 1)
		assert.Equal(t, store.OpUpdate, batch.Writes[0].Op)
		assert.Equal(t, []string{"id", "author_id", "title"}, batch.Writes[0].Changed)
	})

	t.Run("update on added is illegal", func(t *testing.T) {
		t.Parallel()
		s, _ := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		b := &book{ID: "b1"}
		require.NoError(t, repo.Add(b))
		require.ErrorIs(t, repo.Update(b), entity.ErrInvalidState)
	})
}

func TestRemove(t *testing.T) {
	t.Parallel()

	t.Run("untracked instance is fetched first", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		key := entity.NewKey("b1")
		stored := &book{ID: "b1", Title: "shelved"}
		st.EXPECT().Get(gomock.Any(), "books", key).Return(stored, nil)

		require.NoError(t, repo.Remove(context.Background(), &book{ID: "b1"}))
		assert.Equal(t, entity.StateDeleted, repo.StateOf(stored))
	})

	t.Run("remove by key uses the tracked entry", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		key := entity.NewKey("b1")
		st.EXPECT().Get(gomock.Any(), "books", key).Return(&book{ID: "b1"}, nil).Times(1)
		got, err := repo.GetByID(context.Background(), key)
		require.NoError(t, err)

		require.NoError(t, repo.RemoveByKey(context.Background(), key))
		assert.Equal(t, entity.StateDeleted, repo.StateOf(got))
	})

	t.Run("added instance vanishes", func(t *testing.T) {
		t.Parallel()
		s, _ := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		b := &book{ID: "b1"}
		require.NoError(t, repo.Add(b))
		require.NoError(t, repo.Remove(context.Background(), b))
		assert.Equal(t, entity.StateDetached, repo.StateOf(b))
		assert.Zero(t, s.Tracked())
	})
}

func TestCommit(t *testing.T) {
	t.Parallel()

	t.Run("round trip", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		authors, err := keep.RepositoryFor[author](s)
		require.NoError(t, err)
		books, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		// Dependent first: the batch must still insert the author before it.
		b := &book{ID: "b1", AuthorID: "a1", Title: "tracked"}
		a := &author{ID: "a1", Name: "ada"}
		require.NoError(t, books.Add(b))
		require.NoError(t, authors.Add(a))

		var batch store.Batch
		st.EXPECT().ExecuteBatch(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, got store.Batch) error {
				batch = got
				return nil
			})

		require.NoError(t, s.Commit(context.Background()))
		require.Len(t, batch.Writes, 2)
		assert.Equal(t, s.ID(), batch.Session)
		assert.NotEmpty(t, batch.ID)
		assert.Equal(t, store.OpInsert, batch.Writes[0].Op)
		assert.Equal(t, "authors", batch.Writes[0].TypeName)
		assert.Equal(t, "books", batch.Writes[1].TypeName)

		assert.Equal(t, entity.StateUnchanged, authors.StateOf(a))
		assert.Equal(t, entity.StateUnchanged, books.StateOf(b))

		// Committed instances stay in the identity map; no store read needed.
		again, err := authors.GetByID(context.Background(), entity.NewKey("a1"))
		require.NoError(t, err)
		assert.Same(t, a, again)
	})

	t.Run("minimal update set", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		key := entity.NewKey("b1")
		st.EXPECT().Get(gomock.Any(), "books", key).
			Return(&book{ID: "b1", AuthorID: "a1", Title: "old"}, nil)
		got, err := repo.GetByID(context.Background(), key)
		require.NoError(t, err)

		// Divergence alone promotes the entry, no explicit Update call.
		got.Title = "new"

		var batch store.Batch
		st.EXPECT().ExecuteBatch(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, b store.Batch) error {
				batch = b
				return nil
			})
		require.NoError(t, s.Commit(context.Background()))
		require.Len(t, batch.Writes, 1)
		assert.Equal(t, store.OpUpdate, batch.Writes[0].Op)
		assert.Equal(t, []string{"title"}, batch.Writes[0].Changed)
	})

	t.Run("failure leaves every state alone", func(t *testing.T) {
		t.Parallel()
		s, st := newSession(t)
		repo, err := keep.RepositoryFor[book](s)
		require.NoError(t, err)

		added := &book{ID: "b1"}
		require.NoError(t, repo.Add(added))

		modified := &book{ID: "b2", Title: "old"}
		st.EXPECT().Get(gomock.Any(), "books", entity.NewKey("b2")).Return(modified, nil)
		_, err = repo.GetByID(context.Background(), entity.NewKey("b2"))
		require.NoError(t, err)
		require.NoError(t, repo.Update(modified))

		deleted := &book{ID: "b3"}
		st.EXPECT().Get(gomock.Any(), "books", entity.NewKey("b3")).Return(deleted, nil)
		require.NoError(t, repo.RemoveByKey(context.Background(), entity.NewKey("b3")))

		boom := zerr.Wrap(entity.ErrStoreFailure, "disk full")
		st.EXPECT().ExecuteBatch(gomock.Any(), gomock.Any()).Return(boom)

		err = s.Commit(context.Background())
		require.ErrorIs(t, err, entity.ErrStoreFailure)
		assert.Equal(t, entity.StateAdded, repo.StateOf(added))
		assert.Equal(t, entity.StateModified, repo.StateOf(modified))
		assert.Equal(t, entity.StateDeleted, repo.StateOf(deleted))

		// The same session can retry once the store recovers.
		st.EXPECT().ExecuteBatch(gomock.Any(), gomock.Any()).Return(nil)
		require.NoError(t, s.Commit(context.Background()))
		assert.Equal(t, entity.StateUnchanged, repo.StateOf(added))
		assert.Equal(t, entity.StateUnchanged, repo.StateOf(modified))
		assert.Equal(t, entity.StateDetached, repo.StateOf(deleted))
	})

	t.Run("empty session writes nothing", func(t *testing.T) {
		t.Parallel()
		s, _ := newSession(t)
		require.NoError(t, s.Commit(context.Background()))
	})
}

func TestClose(t *testing.T) {
	t.Parallel()

	s, st := newSession(t)
	repo, err := keep.RepositoryFor[book](s)
	require.NoError(t, err)

	key := entity.NewKey("b1")
	st.EXPECT().Get(gomock.Any(), "books", key).Return(&book{ID: "b1"}, nil)
	_, err = repo.GetByID(context.Background(), key)
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = repo.GetByID(context.Background(), key)
	require.ErrorIs(t, err, entity.ErrSessionDisposed)
	_, err = repo.Query(context.Background(), query.All[book]())
	require.ErrorIs(t, err, entity.ErrSessionDisposed)
	require.ErrorIs(t, repo.Add(&book{ID: "b9"}), entity.ErrSessionDisposed)
	require.ErrorIs(t, s.Commit(context.Background()), entity.ErrSessionDisposed)
}
