package migrate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMigrator struct {
	name string
	log  *[]string
	err  error
}

func (m recordingMigrator) Name() string { return m.name }
func (m recordingMigrator) Migrate(context.Context) error {
	*m.log = append(*m.log, m.name)
	return m.err
}

func TestRunAllHonoursOrder(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = nil

	var ran []string
	Register(Plugin{Order: 200, Migrator: recordingMigrator{name: "late", log: &ran}})
	Register(Plugin{Order: 100, Migrator: recordingMigrator{name: "early", log: &ran}})

	require.NoError(t, RunAll(context.Background()))
	assert.Equal(t, []string{"early", "late"}, ran)
	assert.Equal(t, []string{"early", "late"}, Names())
}

func TestRunAllStopsOnError(t *testing.T) {
	saved := plugins
	t.Cleanup(func() { plugins = saved })
	plugins = nil

	var ran []string
	boom := errors.New("boom")
	Register(Plugin{Order: 1, Migrator: recordingMigrator{name: "broken", log: &ran, err: boom}})
	Register(Plugin{Order: 2, Migrator: recordingMigrator{name: "never", log: &ran}})

	err := RunAll(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"broken"}, ran)
}
