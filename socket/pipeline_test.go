package socket

import "testing"

func TestPipeline_Parse(t *testing.T) {
	identify := func(raw []byte) ([]string, bool) {
		if string(raw) == "unparseable" {
			return nil, false
		}
		return []string{"btcusdt@trade"}, true
	}
	p := NewPipeline(identify)

	msg, ok := p.Parse([]byte("trade-frame"))
	if !ok {
		t.Fatal("expected Parse to succeed")
	}
	if len(msg.Identifiers) != 1 || msg.Identifiers[0] != "btcusdt@trade" {
		t.Errorf("unexpected identifiers: %v", msg.Identifiers)
	}
	if string(msg.Raw) != "trade-frame" {
		t.Errorf("expected Raw to be preserved, got %q", msg.Raw)
	}
}

func TestPipeline_ParseUnparseable(t *testing.T) {
	identify := func(raw []byte) ([]string, bool) { return nil, false }
	p := NewPipeline(identify)

	_, ok := p.Parse([]byte("anything"))
	if ok {
		t.Fatal("expected Parse to report unparseable frame")
	}
}

func TestPipeline_ParseEmptyIdentifiersIsUnparseable(t *testing.T) {
	identify := func(raw []byte) ([]string, bool) { return []string{}, true }
	p := NewPipeline(identify)

	_, ok := p.Parse([]byte("anything"))
	if ok {
		t.Fatal("expected empty identifier slice to be treated as unparseable")
	}
}
