package query_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/keep/entity"
	"go.trai.ch/keep/query"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	desc := personBinding()

	t.Run("typed criteria", func(t *testing.T) {
		t.Parallel()
		s := query.All[person]().Where(func(p *person) bool { return p.Age > 30 })
		plan, err := query.Evaluate(query.Base(desc), s)
		require.NoError(t, err)

		ok, err := plan.Match(&person{ID: "p1", Age: 31})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = plan.Match(&person{ID: "p2", Age: 30})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("expression criteria", func(t *testing.T) {
		t.Parallel()
		s := query.All[person]().WhereExpr(`age > 30 && name != "x"`)
		plan, err := query.Evaluate(query.Base(desc), s)
		require.NoError(t, err)

		ok, err := plan.Match(&person{ID: "p1", Name: "ada", Age: 40})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = plan.Match(&person{ID: "p2", Name: "x", Age: 40})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("criteria combine as conjunction", func(t *testing.T) {
		t.Parallel()
		s := query.All[person]().
			Where(func(p *person) bool { return p.Age > 30 }).
			WhereExpr(`dept_id == "d1"`)
		plan, err := query.Evaluate(query.Base(desc), s)
		require.NoError(t, err)

		ok, err := plan.Match(&person{ID: "p1", Age: 40, DeptID: "d1"})
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = plan.Match(&person{ID: "p2", Age: 40, DeptID: "d2"})
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed expression", func(t *testing.T) {
		t.Parallel()
		_, err := query.Evaluate(query.Base(desc), query.All[person]().WhereExpr("age >"))
		require.Error(t, err)
		assert.ErrorContains(t, err, entity.ErrInvalidCriteria.Error())
	})

	t.Run("non-boolean expression", func(t *testing.T) {
		t.Parallel()
		plan, err := query.Evaluate(query.Base(desc), query.All[person]().WhereExpr("age + 1"))
		require.NoError(t, err)
		_, err = plan.Match(&person{ID: "p1", Age: 3})
		require.ErrorIs(t, err, entity.ErrInvalidCriteria)
	})

	t.Run("duplicate includes collapse", func(t *testing.T) {
		t.Parallel()
		s := query.All[person]().Include("department", "department").Include("department")
		plan, err := query.Evaluate(query.Base(desc), s)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"department"}}, plan.Includes())
	})

	t.Run("nested include path splits", func(t *testing.T) {
		t.Parallel()
		s := query.All[person]().Include("department.staff")
		plan, err := query.Evaluate(query.Base(desc), s)
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"department", "staff"}}, plan.Includes())
	})

	t.Run("unknown relation rejected", func(t *testing.T) {
		t.Parallel()
		_, err := query.Evaluate(query.Base(desc), query.All[person]().Include("manager"))
		require.ErrorIs(t, err, entity.ErrUnknownRelation)
	})

	t.Run("empty include segment rejected", func(t *testing.T) {
		t.Parallel()
		_, err := query.Evaluate(query.Base(desc), query.All[person]().Include("department..staff"))
		require.ErrorIs(t, err, entity.ErrUnknownRelation)
	})

	t.Run("unknown order field rejected", func(t *testing.T) {
		t.Parallel()
		_, err := query.Evaluate(query.Base(desc), query.All[person]().OrderBy("salary", query.Asc))
		require.ErrorIs(t, err, entity.ErrUnknownField)
	})

	t.Run("paging without ordering rejected", func(t *testing.T) {
		t.Parallel()
		_, err := query.Evaluate(query.Base(desc), query.All[person]().Page(0, 10))
		require.ErrorIs(t, err, entity.ErrAmbiguousPaging)
	})

	t.Run("negative paging rejected", func(t *testing.T) {
		t.Parallel()
		s := query.All[person]().OrderBy("name", query.Asc).Page(-1, 10)
		_, err := query.Evaluate(query.Base(desc), s)
		require.ErrorIs(t, err, entity.ErrInvalidPage)
	})

	t.Run("no tracking carries through", func(t *testing.T) {
		t.Parallel()
		plan, err := query.Evaluate(query.Base(desc), query.All[person]().NoTracking())
		require.NoError(t, err)
		assert.True(t, plan.NoTracking())
	})

	t.Run("evaluation is repeatable", func(t *testing.T) {
		t.Parallel()
		s := query.All[person]().
			WhereExpr("age > 21").
			Include("department").
			OrderBy("name", query.Desc).
			Page(1, 2)

		p1, err := query.Evaluate(query.Base(desc), s)
		require.NoError(t, err)
		p2, err := query.Evaluate(query.Base(desc), s)
		require.NoError(t, err)

		recs := people(6)
		r1, err := query.Refine(p1, recs)
		require.NoError(t, err)
		r2, err := query.Refine(p2, recs)
		require.NoError(t, err)
		require.Len(t, r1, 2)
		assert.Equal(t, r1, r2)
	})
}
