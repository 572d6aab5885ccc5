// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package scheduler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const triggerYAML = `triggers:
  - name: morning-brief
    kind: cron
    schedule: "0 7 * * *"
    priority: 5
    payload: "Summarize overnight activity."
  - name: repo-watch
    kind: github
    payload: "Review the updated issue."
    github:
      owner: teradata-labs
      repo: warp
`

func writeTriggerFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderParsesDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeTriggerFile(t, dir, "triggers.yaml", triggerYAML)

	loader := NewLoader(dir, nil)
	defs, changed, err := loader.Load()
	require.NoError(t, err)
	assert.True(t, changed)
	require.Len(t, defs, 2)

	assert.Equal(t, "morning-brief", defs[0].Name)
	assert.Equal(t, "cron", defs[0].Kind)
	assert.Equal(t, 5, defs[0].Priority)
	assert.Equal(t, "repo-watch", defs[1].Name)
	require.NotNil(t, defs[1].GitHub)
	assert.Equal(t, "warp", defs[1].GitHub.Repo)
}

func TestLoaderDetectsChangesBySHA(t *testing.T) {
	dir := t.TempDir()
	path := writeTriggerFile(t, dir, "triggers.yaml", triggerYAML)

	loader := NewLoader(dir, nil)
	_, changed, err := loader.Load()
	require.NoError(t, err)
	assert.True(t, changed, "first load is a change")

	_, changed, err = loader.Load()
	require.NoError(t, err)
	assert.False(t, changed, "unchanged file must not report a change")

	require.NoError(t, os.WriteFile(path, []byte(triggerYAML+"\n# touched\n"), 0o644))
	_, changed, err = loader.Load()
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, os.Remove(path))
	defs, changed, err := loader.Load()
	require.NoError(t, err)
	assert.True(t, changed, "deleted file is a change")
	assert.Empty(t, defs)
}

func TestLoaderSkipsMalformedFiles(t *testing.T) {
	dir := t.TempDir()
	writeTriggerFile(t, dir, "good.yaml", `name: ping
kind: cron
schedule: "* * * * *"
payload: check in
`)
	writeTriggerFile(t, dir, "bad.yaml", `name: broken
kind: cron
payload: missing schedule
`)

	loader := NewLoader(dir, nil)
	defs, _, err := loader.Load()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "ping", defs[0].Name)
}

func TestLoaderMissingDirectoryIsEmpty(t *testing.T) {
	loader := NewLoader(filepath.Join(t.TempDir(), "nope"), nil)
	defs, changed, err := loader.Load()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Empty(t, defs)
}

func TestBuildSourceByKind(t *testing.T) {
	defs, _, err := func() ([]Definition, bool, error) {
		dir := t.TempDir()
		writeTriggerFile(t, dir, "t.yaml", triggerYAML)
		return NewLoader(dir, nil).Load()
	}()
	require.NoError(t, err)
	require.Len(t, defs, 2)

	for _, def := range defs {
		src, err := BuildSource(def, nil)
		require.NoError(t, err)
		assert.Equal(t, def.Name, src.Name())
	}

	_, err = BuildSource(Definition{Name: "x", Kind: "carrier-pigeon"}, nil)
	require.Error(t, err)
}
