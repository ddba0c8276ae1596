package pb

import "testing"

func TestHopMessageReserveRoundTrip(t *testing.T) {
	m := &HopMessage{Type: HopReserve}
	out, err := UnmarshalHopMessage(m.Marshal(), 0)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != HopReserve {
		t.Fatalf("expected HopReserve, got %v", out.Type)
	}
}

func TestHopMessageStatusWithReservationRoundTrip(t *testing.T) {
	m := &HopMessage{
		Type: HopStatus,
		Reservation: &Reservation{
			Expire:  1234567890,
			Addrs:   [][]byte{[]byte("addr-a"), []byte("addr-b")},
			Voucher: []byte("voucher-bytes"),
		},
		Limit:  &Limit{Duration: 120, Data: 131072},
		Status: StatusOK,
	}
	out, err := UnmarshalHopMessage(m.Marshal(), 0)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Status != StatusOK {
		t.Fatalf("expected StatusOK, got %v", out.Status)
	}
	if out.Reservation == nil || out.Reservation.Expire != 1234567890 {
		t.Fatalf("reservation not round-tripped: %+v", out.Reservation)
	}
	if len(out.Reservation.Addrs) != 2 || string(out.Reservation.Addrs[0]) != "addr-a" {
		t.Fatalf("addrs not round-tripped: %+v", out.Reservation.Addrs)
	}
	if string(out.Reservation.Voucher) != "voucher-bytes" {
		t.Fatalf("voucher not round-tripped: %q", out.Reservation.Voucher)
	}
	if out.Limit == nil || out.Limit.Duration != 120 || out.Limit.Data != 131072 {
		t.Fatalf("limit not round-tripped: %+v", out.Limit)
	}
}

func TestHopMessageConnectRoundTrip(t *testing.T) {
	m := &HopMessage{Type: HopConnect, Peer: []byte("target-peer-id")}
	out, err := UnmarshalHopMessage(m.Marshal(), 0)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != HopConnect || string(out.Peer) != "target-peer-id" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestStopMessageRoundTrip(t *testing.T) {
	m := &StopMessage{Type: StopConnect, Peer: []byte("source-peer-id"), Limit: &Limit{Data: 4096}}
	out, err := UnmarshalStopMessage(m.Marshal(), 0)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Type != StopConnect || string(out.Peer) != "source-peer-id" {
		t.Fatalf("unexpected result: %+v", out)
	}
	if out.Limit == nil || out.Limit.Data != 4096 {
		t.Fatalf("limit not round-tripped: %+v", out.Limit)
	}
}

func TestUnmarshalHopMessageRejectsOversizedField(t *testing.T) {
	big := make([]byte, 1024)
	m := &HopMessage{Type: HopConnect, Peer: big}
	if _, err := UnmarshalHopMessage(m.Marshal(), 16); err == nil {
		t.Fatalf("expected oversized peer field to be rejected")
	}
}
