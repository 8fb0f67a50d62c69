package snapshot

import (
	"path/filepath"
	"testing"

	"github.com/ffutop/is4320-bridge/internal/is4320"
)

func benchmarkOutcome(b *testing.B, s Storage) {
	r, err := NewRecorder(s)
	if err != nil {
		b.Fatalf("Failed to load storage: %v", err)
	}
	defer r.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Outcome(is4320.Outcome{Cycle: uint64(i), Status: 2, Kind: is4320.KindSuccess, Value: uint16(i), HasValue: true})
	}
}

// BenchmarkMemoryStorage_Outcome benchmarks recording into MemoryStorage.
func BenchmarkMemoryStorage_Outcome(b *testing.B) {
	benchmarkOutcome(b, NewMemoryStorage())
}

func BenchmarkFileStorage_Outcome(b *testing.B) {
	benchmarkOutcome(b, NewFileStorage(filepath.Join(b.TempDir(), "bench_file.bin")))
}

// BenchmarkMmapStorage_Outcome benchmarks recording into MmapStorage (msync).
func BenchmarkMmapStorage_Outcome(b *testing.B) {
	benchmarkOutcome(b, NewMmapStorage(filepath.Join(b.TempDir(), "bench_mmap.bin")))
}
