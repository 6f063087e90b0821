package persistence

import "testing"

func TestDetectLayouts(t *testing.T) {
	cases := []struct {
		name string
		data string
		want layoutTag
	}{
		{"v3", `{"containers":{"default":{"tabs":[]}}}`, layoutV3},
		{"v1", `{"tabs":[{"id":"a"}]}`, layoutV1},
		{"v2", `{"default":{"tabs":[]}}`, layoutV2},
		{"empty object", `{}`, layoutEmpty},
		{"malformed", `not json`, layoutEmpty},
		{"null", `null`, layoutEmpty},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := detect([]byte(c.data)); got != c.want {
				t.Fatalf("detect(%q) = %q, want %q", c.data, got, c.want)
			}
		})
	}
}

func TestMigrateV1LegacyLayout(t *testing.T) {
	data := []byte(`{"tabs":[{"id":"legacy1","url":"https://example.com","left":10,"top":10,"width":500,"height":400}]}`)

	containers := migrate(data, nil)
	rc, ok := containers["<default>"]
	if !ok {
		t.Fatalf("expected <default> container, got %v", containers)
	}
	if len(rc.Tabs) != 1 || rc.Tabs[0].ID != "legacy1" {
		t.Fatalf("expected legacy1 entry, got %+v", rc.Tabs)
	}
}

func TestMigrateV2UnwrappedLayout(t *testing.T) {
	data := []byte(`{"work":{"tabs":[{"id":"w1","url":"https://x","left":0,"top":0,"width":100,"height":100}]}}`)

	containers := migrate(data, nil)
	rc, ok := containers["work"]
	if !ok || len(rc.Tabs) != 1 || rc.Tabs[0].ID != "w1" {
		t.Fatalf("expected work/w1, got %v", containers)
	}
}

func TestMigrateDropsCorruptEntriesSilently(t *testing.T) {
	data := []byte(`{"containers":{"default":{"tabs":[
		{"id":"ok","url":"https://x","left":0,"top":0,"width":800,"height":600},
		{"id":"bad"}
	]}}}`)

	containers := migrate(data, nil)
	rc := containers["default"]
	if len(rc.Tabs) != 1 || rc.Tabs[0].ID != "ok" {
		t.Fatalf("expected only 'ok' to survive, got %+v", rc.Tabs)
	}
}

func TestMigrateMalformedReturnsEmptyNotError(t *testing.T) {
	containers := migrate([]byte(`not json`), nil)
	if len(containers) != 0 {
		t.Fatalf("expected empty map, got %v", containers)
	}
}
