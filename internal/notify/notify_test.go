package notify

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type recordingSink struct {
	name string
	err  error
	got  []Photo
}

func (r *recordingSink) Name() string { return r.name }

func (r *recordingSink) Push(_ context.Context, p Photo) error {
	r.got = append(r.got, p)
	return r.err
}

func TestMulti_PushesToAll(t *testing.T) {
	a := &recordingSink{name: "a", err: errors.New("down")}
	b := &recordingSink{name: "b"}
	m := Multi{a, b}

	err := m.Push(context.Background(), Photo{Name: "x.jpg"})
	if err == nil || !strings.Contains(err.Error(), "notify: a: down") {
		t.Errorf("err = %v", err)
	}
	if len(a.got) != 1 || len(b.got) != 1 {
		t.Errorf("pushes = %d/%d, want 1/1", len(a.got), len(b.got))
	}
	if m.Name() != "a,b" {
		t.Errorf("Name() = %q", m.Name())
	}
}

func TestMulti_Empty(t *testing.T) {
	if err := (Multi{}).Push(context.Background(), Photo{}); err != nil {
		t.Errorf("empty Multi = %v", err)
	}
}

func TestCaption(t *testing.T) {
	tests := []struct {
		label, bin, session string
		conf                float64
		want                []string
	}{
		{"plastic", "bin-7", "s1", 0.87, []string{"plastic (87%)", "bin bin-7", "session s1"}},
		{"unknown", "", "", 0, []string{"unknown (0%)"}},
	}
	for _, tt := range tests {
		got := Caption(tt.label, tt.conf, tt.bin, tt.session)
		for _, w := range tt.want {
			if !strings.Contains(got, w) {
				t.Errorf("Caption = %q, missing %q", got, w)
			}
		}
	}
	if strings.Contains(Caption("x", 0, "", ""), "bin") {
		t.Error("caption without bin should not mention bin")
	}
}
