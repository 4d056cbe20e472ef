package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incbuild/fstrace/internal/report"
	"github.com/incbuild/fstrace/internal/tracer"
)

type ev struct {
	kind tracer.EventKind
	path string
}

func consolidate(events ...ev) *report.TraceResult {
	c := NewConsolidator()
	for _, e := range events {
		c.FileEvent(e.kind, e.path)
	}

	return c.Finalize()
}

func inputPaths(res *report.TraceResult) []string {
	var out []string
	for _, in := range res.Inputs {
		out = append(out, in.Path)
	}

	return out
}

func outputPaths(res *report.TraceResult) []string {
	var out []string
	for _, o := range res.Outputs {
		out = append(out, o.Path)
	}

	return out
}

func TestConsolidatorReads(t *testing.T) {
	res := consolidate(
		ev{tracer.KindRead, "/src/a.c"},
		ev{tracer.KindRead, "/src/a.c"},
		ev{tracer.KindRead, "/src/b.c"},
	)

	assert.Equal(t, []string{"/src/a.c", "/src/b.c"}, inputPaths(res))
	assert.Empty(t, res.Outputs)
	assert.Empty(t, res.Errors)
}

func TestConsolidatorDirectoryListingUpgradesRead(t *testing.T) {
	res := consolidate(
		ev{tracer.KindRead, "/src"},
		ev{tracer.KindReadDirectory, "/src"},
		ev{tracer.KindRead, "/src"},
	)

	require.Len(t, res.Inputs, 1)
	assert.True(t, res.Inputs[0].DirectoryListing)
}

func TestConsolidatorWriteKeepsPriorRead(t *testing.T) {
	// A program that read a file before rewriting parts of it depends
	// on the old contents and produces the new ones.
	res := consolidate(
		ev{tracer.KindRead, "/f"},
		ev{tracer.KindWrite, "/f"},
	)

	assert.Equal(t, []string{"/f"}, inputPaths(res))
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "/f", res.Outputs[0].Path)
	assert.True(t, res.Outputs[0].Overwritten)
}

func TestConsolidatorCreateErasesPriorRead(t *testing.T) {
	// Creation replaces the contents wholesale, so whatever was read
	// before no longer constitutes a dependency.
	res := consolidate(
		ev{tracer.KindRead, "/f"},
		ev{tracer.KindCreate, "/f"},
	)

	assert.Empty(t, res.Inputs)
	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "/f", res.Outputs[0].Path)
	assert.False(t, res.Outputs[0].Overwritten)
}

func TestConsolidatorCreateUpgradesWrite(t *testing.T) {
	res := consolidate(
		ev{tracer.KindWrite, "/f"},
		ev{tracer.KindCreate, "/f"},
	)

	require.Len(t, res.Outputs, 1)
	assert.False(t, res.Outputs[0].Overwritten)
}

func TestConsolidatorReadAfterOutputIgnored(t *testing.T) {
	// Reading back the program's own product observes nothing
	// external.
	res := consolidate(
		ev{tracer.KindCreate, "/out"},
		ev{tracer.KindRead, "/out"},
		ev{tracer.KindReadDirectory, "/out"},
	)

	assert.Empty(t, res.Inputs)
	assert.Equal(t, []string{"/out"}, outputPaths(res))
}

func TestConsolidatorEphemeralFileVanishes(t *testing.T) {
	// echo > tmp && rm tmp: the path never existed as far as anyone
	// downstream is concerned.
	res := consolidate(
		ev{tracer.KindCreate, "/tmp/scratch"},
		ev{tracer.KindDelete, "/tmp/scratch"},
	)

	assert.Empty(t, res.Inputs)
	assert.Empty(t, res.Outputs)
}

func TestConsolidatorDeleteWithoutCreateIsReported(t *testing.T) {
	res := consolidate(ev{tracer.KindDelete, "/stale"})

	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "/stale", res.Outputs[0].Path)
	assert.True(t, res.Outputs[0].Deleted)
}

func TestConsolidatorRecreateAfterDelete(t *testing.T) {
	// rm f && touch f: the deletion is subsumed by the new file.
	res := consolidate(
		ev{tracer.KindDelete, "/f"},
		ev{tracer.KindCreate, "/f"},
	)

	require.Len(t, res.Outputs, 1)
	assert.Equal(t, "/f", res.Outputs[0].Path)
	assert.False(t, res.Outputs[0].Deleted)
	assert.False(t, res.Outputs[0].Overwritten)
}

func TestConsolidatorMoveScenario(t *testing.T) {
	// mv a b arrives as delete(a) + create(b).
	res := consolidate(
		ev{tracer.KindDelete, "/a"},
		ev{tracer.KindCreate, "/b"},
	)

	require.Len(t, res.Outputs, 2)
	assert.True(t, res.Outputs[0].Deleted)
	assert.Equal(t, "/a", res.Outputs[0].Path)
	assert.Equal(t, "/b", res.Outputs[1].Path)
}

func TestConsolidatorFatalErrorsDeduped(t *testing.T) {
	res := consolidate(
		ev{tracer.KindFatalError, "copyfile"},
		ev{tracer.KindFatalError, "copyfile"},
		ev{tracer.KindFatalError, "searchfs"},
	)

	assert.Equal(t, []string{"copyfile", "searchfs"}, res.Errors)
}

func TestConsolidatorEventLogKeepsOrder(t *testing.T) {
	res := consolidate(
		ev{tracer.KindRead, "/in"},
		ev{tracer.KindCreate, "/out"},
		ev{tracer.KindDelete, "/gone"},
	)

	assert.Equal(t, []report.Event{
		{Kind: "read", Path: "/in"},
		{Kind: "create", Path: "/out"},
		{Kind: "delete", Path: "/gone"},
	}, res.Events)
}

func TestConsolidatorIncomplete(t *testing.T) {
	c := NewConsolidator()
	assert.False(t, c.Finalize().Incomplete)

	c.MarkIncomplete()
	assert.True(t, c.Finalize().Incomplete)
}
