// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package locale

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/cloud"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		in   string
		want language.Tag
	}{
		{"", language.English},
		{"C", language.English},
		{"en", language.English},
		{"en-US", language.English},
		{"pl", language.Polish},
		{"pl_PL.UTF-8", language.Polish},
		{"xx-invalid-!!", language.English},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			base, _ := Match(tt.in).Base()
			want, _ := tt.want.Base()
			assert.Equal(t, want, base)
		})
	}
}

func TestCatalog_Translates(t *testing.T) {
	en := New("en")
	pl := New("pl")

	for _, key := range []string{ErrAuth, ErrTimeout, ErrRateLimit, ErrUnknown, ErrQueued} {
		assert.NotEqual(t, key, en.T(key), "missing english text for %s", key)
		assert.NotEqual(t, key, pl.T(key), "missing polish text for %s", key)
		assert.NotEqual(t, en.T(key), pl.T(key))
	}
	assert.Equal(t, "Przekroczono czas oczekiwania. Spróbuj ponownie.", pl.T(ErrTimeout))
}

func TestCatalog_UnknownKey(t *testing.T) {
	assert.Equal(t, "errors.nope", New("en").T("errors.nope"))

	var c *Catalog
	assert.Equal(t, ErrAuth, c.T(ErrAuth))
}

func TestErrorKey(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&cloud.Error{Kind: cloud.KindAuth}, ErrAuth},
		{fmt.Errorf("send: %w", &cloud.Error{Kind: cloud.KindTimeout}), ErrTimeout},
		{&cloud.Error{Kind: cloud.KindRateLimit, Status: 429}, ErrRateLimit},
		{&cloud.Error{Kind: cloud.KindUnknown, Status: 500}, ErrUnknown},
		{errors.New("plain"), ErrUnknown},
		{context.DeadlineExceeded, ErrUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorKey(tt.err), "%v", tt.err)
	}

	assert.Equal(t, New("pl").T(ErrAuth), New("pl").Error(&cloud.Error{Kind: cloud.KindAuth}))
}
