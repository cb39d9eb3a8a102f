package overwatch

import "testing"

func TestUpdateAndDeleteCallbacksFire(t *testing.T) {
	r := New()

	var updates [][]byte
	var deletes int

	r.OnUpdate("key", func(v []byte) { updates = append(updates, v) })
	r.OnDelete("key", func(v []byte) { deletes++ })

	r.NotifyUpdate("key", []byte("v1"))
	r.NotifyUpdate("key", []byte("v2"))
	r.NotifyDelete("key")

	if len(updates) != 2 || string(updates[0]) != "v1" || string(updates[1]) != "v2" {
		t.Fatalf("updates = %v, want [v1 v2]", updates)
	}
	if deletes != 1 {
		t.Fatalf("deletes = %d, want 1", deletes)
	}
}

func TestNotifyOnMissingKeyIsNoop(t *testing.T) {
	r := New()
	r.NotifyUpdate("nope", []byte("v")) // must not panic
	r.NotifyDelete("nope")
}

func TestUnsubscribeStopsFutureNotifications(t *testing.T) {
	r := New()
	var n int
	r.OnUpdate("k", func(v []byte) { n++ })
	r.NotifyUpdate("k", nil)
	r.Unsubscribe("k")
	r.NotifyUpdate("k", nil)

	if n != 1 {
		t.Fatalf("n = %d, want 1", n)
	}
}

func TestValueCaptureAcrossMultipleCalls(t *testing.T) {
	r := New()
	i := 0
	r.OnUpdate("k", func(v []byte) { i++ })

	for e := 0; e < 5; e++ {
		r.NotifyUpdate("k", []byte("test"))
	}
	if i != 5 {
		t.Fatalf("i = %d, want 5", i)
	}
}
