// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build race

package secretkey_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/siderolabs/go-pgp-secretkey/pkg/secretkey"
)

func TestEngineParallel(t *testing.T) {
	fixture := newRSAFixture(t, 1024, 4)
	engine := secretkey.NewEngine()

	protected, err := engine.Protect(fixture.pub, fixture.material, newRecipe(t, "shared"), false)
	require.NoError(t, err)

	t.Run("parallel_section", func(t *testing.T) {
		for range 10 {
			t.Run("Extract", func(t *testing.T) {
				t.Parallel()

				for range 10 {
					m, err := engine.Extract(protected, []byte("shared"))
					require.NoError(t, err)
					assert.True(t, m.Equal(fixture.material))

					_, err = engine.ReprotectPacket(protected, []byte("shared"), newRecipe(t, "other"))
					require.NoError(t, err)
				}
			})
		}
	})
}
