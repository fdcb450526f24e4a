package testbed

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wasmforge/corevm/engine"
	"github.com/wasmforge/corevm/vm"
	"github.com/wasmforge/corevm/wasm"
)

// HTTPChunkOp simulates an async HTTP chunk read
type HTTPChunkOp struct {
	memory *vm.MemoryInstance
	stream *ChunkStream
	bufPtr uint32
	bufLen uint32
}

func (op *HTTPChunkOp) CmdID() engine.CommandID { return 2 }

func (op *HTTPChunkOp) Execute(ctx context.Context) (uint64, error) {
	chunk, ok := op.stream.Next()
	if !ok {
		return 0, nil
	}

	data := chunk
	if len(data) > int(op.bufLen) {
		data = data[:op.bufLen]
	}
	if err := op.memory.Write(op.bufPtr, data); err != nil {
		return 0, err
	}
	return uint64(len(data)), nil
}

// HTTPStatusOp simulates async HTTP status retrieval
type HTTPStatusOp struct {
	status uint32
}

func (op *HTTPStatusOp) CmdID() engine.CommandID { return 3 }

func (op *HTTPStatusOp) Execute(ctx context.Context) (uint64, error) {
	return uint64(op.status), nil
}

// ChunkStream provides chunks for streaming simulation
type ChunkStream struct {
	chunks   [][]byte
	pos      int
	suspends int64
}

func NewChunkStream(numChunks, chunkSize int) *ChunkStream {
	chunks := make([][]byte, numChunks)
	for i := range chunks {
		chunks[i] = make([]byte, chunkSize)
		rand.Read(chunks[i])
	}
	return &ChunkStream{chunks: chunks}
}

func (s *ChunkStream) Next() ([]byte, bool) {
	if s.pos >= len(s.chunks) {
		return nil, false
	}
	chunk := s.chunks[s.pos]
	s.pos++
	atomic.AddInt64(&s.suspends, 1)
	return chunk, true
}

func (s *ChunkStream) Suspends() int64 {
	return atomic.LoadInt64(&s.suspends)
}

func (s *ChunkStream) TotalBytes() int {
	total := 0
	for _, c := range s.chunks {
		total += len(c)
	}
	return total
}

// streamingEnvImports builds the "env" host module imports shared by the
// streaming tests: http_read_chunk and http_get_status (both async) plus a
// synchronous report_progress.
func streamingEnvImports(asyncify *engine.Asyncify, scheduler *engine.Scheduler, stream *ChunkStream, progressCalls *int32, memory **vm.MemoryInstance) (*vm.Imports, []*vm.FunctionInstance) {
	imports := vm.NewImports()

	i32 := vm.ValTypeToKind(wasm.ValI32)

	readChunk := &vm.FunctionInstance{
		Type: vm.FuncType{Params: []vm.ValKind{i32, i32}, Results: []vm.ValKind{i32}},
		Host: engine.MakeAsyncHandler(asyncify, scheduler, func(_ *vm.CallingFrame, inputs []vm.Value) engine.PendingOp {
			return &HTTPChunkOp{
				stream: stream,
				bufPtr: inputs[0].U32(),
				bufLen: inputs[1].U32(),
				memory: *memory,
			}
		}),
		Name: "env#http_read_chunk",
	}
	imports.AddFunc("env", "http_read_chunk", readChunk)

	getStatus := &vm.FunctionInstance{
		Type: vm.FuncType{Results: []vm.ValKind{i32}},
		Host: engine.MakeAsyncHandler(asyncify, scheduler, func(_ *vm.CallingFrame, _ []vm.Value) engine.PendingOp {
			return &HTTPStatusOp{status: 200}
		}),
		Name: "env#http_get_status",
	}
	imports.AddFunc("env", "http_get_status", getStatus)

	reportProgress := &vm.FunctionInstance{
		Type: vm.FuncType{Params: []vm.ValKind{i32, i32}},
		Host: func(_ *vm.CallingFrame, _ []vm.Value, _ []vm.Value) error {
			if progressCalls != nil {
				atomic.AddInt32(progressCalls, 1)
			}
			return nil
		},
		Name: "env#report_progress",
	}
	imports.AddFunc("env", "report_progress", reportProgress)

	return imports, []*vm.FunctionInstance{readChunk, getStatus, reportProgress}
}

func instantiateStreamingDemo(ctx context.Context, rt *vm.Runtime, wasmBytes []byte, name string, asyncify *engine.Asyncify, scheduler *engine.Scheduler, stream *ChunkStream, progressCalls *int32) (*vm.ModuleInstance, error) {
	var memory *vm.MemoryInstance
	imports, hostFns := streamingEnvImports(asyncify, scheduler, stream, progressCalls, &memory)

	mod, err := wasm.ParseModule(wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("parse module: %w", err)
	}

	modInst, err := vm.Instantiate(ctx, rt, mod, name, imports)
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	for _, fn := range hostFns {
		fn.Module = modInst
	}

	memory = modInst.ExportedMemory("memory")
	if memory == nil {
		return nil, fmt.Errorf("module has no exported memory")
	}

	if err := asyncify.Init(rt, modInst); err != nil {
		return nil, fmt.Errorf("init asyncify: %w", err)
	}

	return modInst, nil
}

// TestAsyncify_StreamingHTTP tests many suspend/resume cycles simulating HTTP streaming
func TestAsyncify_StreamingHTTP(t *testing.T) {
	ctx := context.Background()

	wasmBytes, err := os.ReadFile("streaming-demo/streaming_demo.wasm")
	if err != nil {
		t.Skipf("streaming_demo.wasm not found: %v", err)
	}

	if !engine.IsAsyncified(wasmBytes) {
		t.Fatal("WASM module is not asyncified")
	}

	tests := []struct {
		name      string
		numChunks int
		chunkSize int
	}{
		{"small_10chunks", 10, 64},
		{"medium_100chunks", 100, 256},
		{"large_1000chunks", 1000, 512},
		{"many_10000chunks", 10000, 64},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := vm.NewRuntime(vm.RuntimeConfig{})

			stream := NewChunkStream(tt.numChunks, tt.chunkSize)
			var progressCalls int32

			asyncify := engine.NewAsyncify()
			scheduler := engine.NewScheduler(asyncify)

			modInst, err := instantiateStreamingDemo(ctx, rt, wasmBytes, tt.name, asyncify, scheduler, stream, &progressCalls)
			if err != nil {
				t.Fatal(err)
			}

			countChunks := modInst.ExportedFunc("count_stream_chunks")
			if countChunks == nil {
				t.Fatal("count_stream_chunks not found")
			}

			start := time.Now()
			results, err := scheduler.Run(ctx, rt, countChunks)
			elapsed := time.Since(start)

			if err != nil {
				t.Fatalf("run: %v", err)
			}

			chunkCount := uint32(results[0])
			suspends := stream.Suspends()

			if int(chunkCount) != tt.numChunks {
				t.Errorf("expected %d chunks, got %d", tt.numChunks, chunkCount)
			}

			// Each chunk read = 1 suspend/resume cycle
			if suspends != int64(tt.numChunks) {
				t.Errorf("expected %d suspends, got %d", tt.numChunks, suspends)
			}

			t.Logf("Processed %d chunks (%d bytes) in %v",
				chunkCount, stream.TotalBytes(), elapsed)
			t.Logf("Suspend/resume cycles: %d, avg: %v/cycle",
				suspends, elapsed/time.Duration(suspends))
		})
	}
}

// BenchmarkAsyncify_Streaming benchmarks asyncify suspend/resume overhead
func BenchmarkAsyncify_Streaming(b *testing.B) {
	ctx := context.Background()

	wasmBytes, err := os.ReadFile("streaming-demo/streaming_demo.wasm")
	if err != nil {
		b.Skipf("streaming_demo.wasm not found: %v", err)
	}

	benchmarks := []struct {
		name      string
		numChunks int
		chunkSize int
	}{
		{"1chunk_64b", 1, 64},
		{"10chunks_64b", 10, 64},
		{"100chunks_64b", 100, 64},
		{"1000chunks_64b", 1000, 64},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			b.ReportAllocs()

			for i := 0; i < b.N; i++ {
				rt := vm.NewRuntime(vm.RuntimeConfig{})
				stream := NewChunkStream(bm.numChunks, bm.chunkSize)

				asyncify := engine.NewAsyncify()
				scheduler := engine.NewScheduler(asyncify)

				modInst, err := instantiateStreamingDemo(ctx, rt, wasmBytes, "bench", asyncify, scheduler, stream, nil)
				if err != nil {
					b.Fatal(err)
				}

				countChunks := modInst.ExportedFunc("count_stream_chunks")
				scheduler.Run(ctx, rt, countChunks)
			}

			b.ReportMetric(float64(bm.numChunks), "suspends/op")
		})
	}
}

// BenchmarkAsyncify_SuspendResume measures raw suspend/resume overhead
func BenchmarkAsyncify_SuspendResume(b *testing.B) {
	ctx := context.Background()

	wasmBytes, err := os.ReadFile("streaming-demo/streaming_demo.wasm")
	if err != nil {
		b.Skipf("streaming_demo.wasm not found: %v", err)
	}

	b.Run("per_suspend_cycle", func(b *testing.B) {
		rt := vm.NewRuntime(vm.RuntimeConfig{})

		// Create a stream with exactly b.N chunks
		stream := NewChunkStream(b.N, 64)

		asyncify := engine.NewAsyncify()
		scheduler := engine.NewScheduler(asyncify)

		modInst, err := instantiateStreamingDemo(ctx, rt, wasmBytes, "bench_suspend", asyncify, scheduler, stream, nil)
		if err != nil {
			b.Skipf("failed to instantiate module: %v", err)
		}

		countChunks := modInst.ExportedFunc("count_stream_chunks")

		b.ResetTimer()
		scheduler.Run(ctx, rt, countChunks)
		b.StopTimer()
	})
}

// TestAsyncify_StreamingProfile runs a profiled streaming test
func TestAsyncify_StreamingProfile(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping profile test in short mode")
	}

	ctx := context.Background()

	wasmBytes, err := os.ReadFile("streaming-demo/streaming_demo.wasm")
	if err != nil {
		t.Skipf("streaming_demo.wasm not found: %v", err)
	}

	const numChunks = 10000
	const chunkSize = 256
	const iterations = 5

	var totalTime time.Duration
	var totalSuspends int64

	for iter := 0; iter < iterations; iter++ {
		rt := vm.NewRuntime(vm.RuntimeConfig{})
		stream := NewChunkStream(numChunks, chunkSize)

		asyncify := engine.NewAsyncify()
		scheduler := engine.NewScheduler(asyncify)

		modInst, err := instantiateStreamingDemo(ctx, rt, wasmBytes, fmt.Sprintf("profile_%d", iter), asyncify, scheduler, stream, nil)
		if err != nil {
			t.Fatal(err)
		}

		countChunks := modInst.ExportedFunc("count_stream_chunks")

		start := time.Now()
		scheduler.Run(ctx, rt, countChunks)
		elapsed := time.Since(start)

		totalTime += elapsed
		totalSuspends += stream.Suspends()
	}

	avgTime := totalTime / iterations
	avgSuspends := totalSuspends / iterations
	suspendOverhead := avgTime / time.Duration(avgSuspends)
	throughput := float64(numChunks*chunkSize*iterations) / totalTime.Seconds() / 1024 / 1024

	t.Logf("=== Asyncify Streaming Profile ===")
	t.Logf("Chunks: %d x %d bytes = %d KB per iteration", numChunks, chunkSize, numChunks*chunkSize/1024)
	t.Logf("Iterations: %d", iterations)
	t.Logf("Average time: %v", avgTime)
	t.Logf("Average suspends: %d", avgSuspends)
	t.Logf("Suspend overhead: %v per suspend/resume", suspendOverhead)
	t.Logf("Throughput: %.2f MB/s", throughput)
}
