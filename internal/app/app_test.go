package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radsite/internal/model"
)

type stub string

func (s stub) Label() string             { return string(s) }
func (s stub) Models() []*model.Model    { return nil }
func (s stub) Register(site *Site) error { return nil }

func TestResolveKeepsConfigOrder(t *testing.T) {
	got, err := Resolve([]App{stub("a"), stub("b"), stub("c")}, []string{"c", "a"})
	require.NoError(t, err)
	assert.Equal(t, []App{stub("c"), stub("a")}, got)
}

func TestResolveErrors(t *testing.T) {
	_, err := Resolve([]App{stub("a")}, []string{"b"})
	assert.ErrorContains(t, err, "unknown app b")
	_, err = Resolve([]App{stub("a"), stub("a")}, []string{"a"})
	assert.ErrorContains(t, err, "provided twice")
	_, err = Resolve([]App{stub("a")}, []string{"a", "a"})
	assert.ErrorContains(t, err, "listed twice")
}
