// Shadow
// Copyright (C) 2013-2024+ James Shubin and the project contributors
// Written by James Shubin <james@shubin.ca> and the project contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package util

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArtifactTreeListsHostFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/run0/h1/packets.trace", []byte("x"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/run0/h1/host.log", []byte("y"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/run0/h2/host.log", []byte("z"), 0o644))

	tree, err := ArtifactTree(fs, "/run0")
	require.NoError(t, err)
	assert.Contains(t, tree, "h1/")
	assert.Contains(t, tree, "h2/")
	assert.Contains(t, tree, "packets.trace")
	assert.Contains(t, tree, "host.log")
}

func TestArtifactTreeErrorsOnMissingDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	_, err := ArtifactTree(fs, "/does-not-exist")
	assert.Error(t, err)
}
