package pkdtree

import (
	"errors"
	"strings"
	"testing"
)

func TestLocalComm_SendReceive(t *testing.T) {
	err := RunLocal(2, func(rank int, comm Communicator) error {
		switch rank {
		case 0:
			return comm.Send([]float32{1, 2, 3}, 1, 0x7)
		default:
			buf := make([]float32, 3)
			if err := comm.Receive(buf, 0, 0x7); err != nil {
				return err
			}
			for i, want := range []float32{1, 2, 3} {
				if buf[i] != want {
					t.Errorf("buf[%d] = %v, want %v", i, buf[i], want)
				}
			}
			return nil
		}
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLocalComm_FIFOPerTag(t *testing.T) {
	err := RunLocal(2, func(rank int, comm Communicator) error {
		const n = 20
		if rank == 0 {
			for i := 0; i < n; i++ {
				if err := comm.Send([]int{i}, 1, 0x9); err != nil {
					return err
				}
			}
			return nil
		}
		for i := 0; i < n; i++ {
			buf := []int{-1}
			if err := comm.Receive(buf, 0, 0x9); err != nil {
				return err
			}
			if buf[0] != i {
				t.Errorf("message %d arrived as %d", i, buf[0])
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLocalComm_CopyOnSend(t *testing.T) {
	err := RunLocal(2, func(rank int, comm Communicator) error {
		if rank == 0 {
			buf := []int{1}
			if err := comm.Send(buf, 1, 0xa); err != nil {
				return err
			}
			buf[0] = 99 // must not affect the message in flight
			return comm.Send([]int{2}, 1, 0xa)
		}
		got := []int{0}
		if err := comm.Receive(got, 0, 0xa); err != nil {
			return err
		}
		if got[0] != 1 {
			t.Errorf("first message = %d, want 1", got[0])
		}
		return comm.Receive(got, 0, 0xa)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLocalComm_TypeMismatch(t *testing.T) {
	err := RunLocal(2, func(rank int, comm Communicator) error {
		if rank == 0 {
			return comm.Send([]int{1, 2}, 1, 0xb)
		}
		buf := make([]float64, 2)
		if err := comm.Receive(buf, 0, 0xb); err == nil {
			t.Error("expected type mismatch error, got nil")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestLocalComm_InvalidRank(t *testing.T) {
	lc := NewLocalCluster(2)
	c := lc.Comm(0)
	if err := c.Send([]int{1}, 5, 0); err == nil {
		t.Error("send to rank 5 of 2 should fail")
	}
	if lc.Comm(7) != nil {
		t.Error("Comm(7) of a 2-rank cluster should be nil")
	}
}

func TestRunLocal_AggregatesErrors(t *testing.T) {
	boom := errors.New("rank 2 failed")
	err := RunLocal(4, func(rank int, comm Communicator) error {
		if rank == 2 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunLocal error = %v, want to wrap %v", err, boom)
	}
}

func TestRunLocal_ZeroProcs(t *testing.T) {
	err := RunLocal(0, func(rank int, comm Communicator) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "at least 1") {
		t.Fatalf("RunLocal(0) error = %v", err)
	}
}
