package telemetry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func att(b ...byte) Sample { return Sample{Kind: KindAttitude, Encoded: b} }
func pos(b ...byte) Sample { return Sample{Kind: KindPosition, Encoded: b} }

func TestTryCombineNeedsBothSlots(t *testing.T) {
	cases := []struct {
		name   string
		offers []Sample
		want   bool
	}{
		{"empty", nil, false},
		{"attitude only", []Sample{att(1)}, false},
		{"position only", []Sample{pos(2)}, false},
		{"both", []Sample{att(1), pos(2)}, true},
		{"both reversed", []Sample{pos(2), att(1)}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var a Aggregator
			for _, s := range tc.offers {
				if err := a.Offer(s); err != nil {
					t.Fatalf("Offer: %v", err)
				}
			}
			beforeAtt, beforePos := a.Pending()

			_, ok := a.TryCombine(7)
			if ok != tc.want {
				t.Fatalf("TryCombine ok=%v, want %v", ok, tc.want)
			}

			gotAtt, gotPos := a.Pending()
			if ok && (gotAtt || gotPos) {
				t.Fatal("slots not cleared after combine")
			}
			if !ok && (gotAtt != beforeAtt || gotPos != beforePos) {
				t.Fatal("failed combine modified the slots")
			}
		})
	}
}

func TestCombineThenCombineAgainNeedsNewSamples(t *testing.T) {
	var a Aggregator
	_ = a.Offer(att(1))
	_ = a.Offer(pos(2))
	if _, ok := a.TryCombine(1); !ok {
		t.Fatal("first combine failed")
	}
	if _, ok := a.TryCombine(2); ok {
		t.Fatal("combined twice from one pair")
	}
	_ = a.Offer(att(3))
	if _, ok := a.TryCombine(3); ok {
		t.Fatal("combined with a stale position")
	}
}

func TestOfferOverwrites(t *testing.T) {
	var a Aggregator
	_ = a.Offer(att(1, 1))
	_ = a.Offer(att(2, 2))
	_ = a.Offer(pos(9))

	f, ok := a.TryCombine(0)
	if !ok {
		t.Fatal("expected frame")
	}
	if !bytes.Equal(f.Attitude, []byte{2, 2}) {
		t.Fatalf("expected latest attitude, got %v", f.Attitude)
	}
}

func TestOfferRejectsUnknownKind(t *testing.T) {
	var a Aggregator
	err := a.Offer(Sample{Kind: 0})
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestFrameLayout(t *testing.T) {
	f := Frame{Attitude: []byte{0xA1, 0xA2}, Position: []byte{0xB1}, Timestamp: 0x01020304}
	if f.Len() != 7 {
		t.Fatalf("Len = %d", f.Len())
	}

	got := f.Bytes()
	if !bytes.Equal(got[:3], []byte{0xA1, 0xA2, 0xB1}) {
		t.Fatalf("payload order wrong: %x", got)
	}
	if ts := binary.LittleEndian.Uint32(got[3:]); ts != 0x01020304 {
		t.Fatalf("timestamp = %#x", ts)
	}

	short := make([]byte, 6)
	if _, err := f.PutInto(short); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
	if !bytes.Equal(short, make([]byte, 6)) {
		t.Fatal("short buffer was written")
	}
}
