/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package router

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouterHasComponentRoute(t *testing.T) {
	tbl := NewTable()
	r := &Router{Table: tbl}

	require.False(t, r.HasComponentRoute("muc.aether.im"))

	tbl.AddRoute(testJID(t, "muc.aether.im"), &fakeHandler{name: "muc"})
	require.True(t, r.HasComponentRoute("muc.aether.im"))
	require.False(t, r.HasComponentRoute("pubsub.aether.im"))

	// session routes bind below domain level and never match
	tbl.AddRoute(testJID(t, "amara@aether.im/balcony"), &fakeHandler{name: "balcony"})
	require.False(t, r.HasComponentRoute("aether.im"))

	tbl.RemoveRoute(testJID(t, "muc.aether.im"))
	require.False(t, r.HasComponentRoute("muc.aether.im"))
}
