package transport

import (
	"bytes"
	"testing"
	"time"
)

func TestPipe_PacketConns(t *testing.T) {
	pipe := NewPipe(PipeConfig{})
	defer pipe.Close()

	c0, c1 := pipe.PacketConns(1000, 2000)
	received := make(chan *ReceivedMessage, 1)
	u1, err := NewUDP(UDPConfig{
		Conn:           c1,
		MessageHandler: func(msg *ReceivedMessage) { received <- msg },
	})
	if err != nil {
		t.Fatalf("NewUDP() error = %v", err)
	}
	if err := u1.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer u1.Stop()

	if _, err := c0.WriteTo([]byte("datagram"), c1.LocalAddr()); err != nil {
		t.Fatalf("WriteTo() error = %v", err)
	}

	select {
	case msg := <-received:
		if string(msg.Data) != "datagram" {
			t.Errorf("received %q", msg.Data)
		}
		if msg.Addr != c0.LocalAddr() {
			t.Errorf("Addr = %v, want %v", msg.Addr, c0.LocalAddr())
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for background delivery")
	}
}

// readAll reads count datagrams from c, delivering manually.
func readAll(t *testing.T, p *Pipe, c *PipePacketConn, count int) [][]byte {
	t.Helper()
	out := make(chan []byte, count)
	go func() {
		buf := make([]byte, 64)
		for range count {
			n, _, err := c.ReadFrom(buf)
			if err != nil {
				return
			}
			out <- append([]byte(nil), buf[:n]...)
		}
	}()

	var got [][]byte
	deadline := time.After(time.Second)
	for len(got) < count {
		p.Deliver()
		select {
		case b := <-out:
			got = append(got, b)
		case <-deadline:
			t.Fatalf("received %d of %d datagrams", len(got), count)
		case <-time.After(time.Millisecond):
		}
	}
	return got
}

func TestPipe_ManualDelivery(t *testing.T) {
	pipe := NewPipe(PipeConfig{Manual: true})
	defer pipe.Close()

	c0, c1 := pipe.PacketConns(1, 1)
	done := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		n, _, err := c1.ReadFrom(buf)
		if err != nil {
			done <- nil
			return
		}
		done <- buf[:n]
	}()

	c0.WriteTo([]byte("manual"), nil)
	select {
	case <-done:
		t.Fatal("datagram delivered without Deliver")
	case <-time.After(20 * time.Millisecond):
	}

	deadline := time.After(time.Second)
	for {
		pipe.Deliver()
		select {
		case got := <-done:
			if string(got) != "manual" {
				t.Errorf("received %q, want manual", got)
			}
			return
		case <-deadline:
			t.Fatal("timeout waiting for manual delivery")
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPipe_Conditions(t *testing.T) {
	tests := []struct {
		name string
		cond LinkConditions
		send []string
		want []string
	}{
		{"loss", LinkConditions{Loss: 1}, []string{"a"}, nil},
		{"duplicate", LinkConditions{Duplicate: 1}, []string{"a"}, []string{"a", "a"}},
		{"reorder", LinkConditions{Reorder: 1}, []string{"a", "b"}, []string{"b", "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipe := NewPipe(PipeConfig{Manual: true, Conditions: tt.cond, Seed: 1})
			defer pipe.Close()
			c0, c1 := pipe.PacketConns(1, 2)

			for _, s := range tt.send {
				if n, err := c0.WriteTo([]byte(s), nil); err != nil || n != len(s) {
					t.Fatalf("WriteTo() = %d, %v", n, err)
				}
			}
			if len(tt.want) == 0 {
				if n := pipe.Deliver(); n != 0 {
					t.Errorf("Deliver() = %d, want 0", n)
				}
				return
			}
			got := readAll(t, pipe, c1, len(tt.want))
			for i, w := range tt.want {
				if string(got[i]) != w {
					t.Errorf("datagram %d = %q, want %q", i, got[i], w)
				}
			}
		})
	}
}

func TestPipe_StreamPartialReads(t *testing.T) {
	pipe := NewPipe(PipeConfig{Conditions: LinkConditions{Loss: 1}})
	defer pipe.Close()
	s0, s1 := pipe.StreamConns(1)

	// Streams ignore link conditions.
	if _, err := s0.Write([]byte("abcdef")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	var got []byte
	buf := make([]byte, 4)
	for len(got) < 6 {
		n, err := s1.Read(buf)
		if err != nil {
			t.Fatalf("Read() error = %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, []byte("abcdef")) {
		t.Errorf("read %q, want abcdef", got)
	}
}
