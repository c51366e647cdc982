package pipe

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWriteThenRead(t *testing.T) {
	p := New()
	p.Write([]byte("hello"))
	p.Write([]byte(" world"))

	buf := make([]byte, 32)
	n := p.Read(buf)
	require.Equal(t, "hello world", string(buf[:n]))
}

// TestOrdering is spec.md §8 property 2: for a sequence of writes w1..wn
// and a sequence of reads that in total consume k bytes, the bytes read
// equal the first k bytes of the concatenation w1||...||wn.
func TestOrdering(t *testing.T) {
	p := New()
	writes := [][]byte{[]byte("ab"), []byte("cde"), []byte("f")}
	want := "abcdef"
	for _, w := range writes {
		p.Write(w)
	}

	got := make([]byte, 0, len(want))
	buf := make([]byte, 2)
	for len(got) < len(want) {
		n := p.Read(buf)
		require.NotZero(t, n)
		got = append(got, buf[:n]...)
	}
	require.Equal(t, want, string(got))
}

func TestReadBlocksUntilWrite(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	wg.Add(1)
	var n int
	buf := make([]byte, 8)
	go func() {
		defer wg.Done()
		n = p.Read(buf)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Write([]byte("late"))
	wg.Wait()
	require.Equal(t, "late", string(buf[:n]))
}

func TestCloseWakesReaderWithZero(t *testing.T) {
	p := New()
	done := make(chan int, 1)
	go func() {
		buf := make([]byte, 8)
		done <- p.Read(buf)
	}()

	time.Sleep(20 * time.Millisecond)
	p.Close()
	require.Equal(t, 0, <-done)
	require.True(t, p.Closed())
}

func TestSingleReaderSerialized(t *testing.T) {
	p := New()
	var wg sync.WaitGroup
	results := make([]int, 2)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			buf := make([]byte, 8)
			results[i] = p.Read(buf)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	p.Write([]byte("x"))
	p.Close()
	wg.Wait()
	// exactly one reader got the byte, the other got EOF.
	require.ElementsMatch(t, []int{0, 1}, results)
}
