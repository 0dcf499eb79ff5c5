// Command loadtest drives concurrent simulated candidates through the
// onboarding websocket and reports stage latencies.
package main

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hubenschmidt/preboard/internal/audio"
	"github.com/hubenschmidt/preboard/internal/onboarding"
)

func main() {
	gateway := flag.String("gateway", "ws://localhost:8000/ws/onboard", "gateway WebSocket URL")
	concurrency := flag.Int("concurrency", 10, "number of concurrent candidates")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	name := flag.String("name", "Load Test", "candidate name sent with start")
	speech := flag.Duration("speech", time.Second, "synthetic microphone audio streamed before each upload")
	timeout := flag.Duration("timeout", 60*time.Second, "per-event read timeout")
	flag.Parse()

	fmt.Printf("Load test: %d concurrent candidates for %s\n", *concurrency, *duration)
	fmt.Printf("Gateway: %s\n\n", *gateway)

	var mu sync.Mutex
	var results []runResult
	var wg sync.WaitGroup

	deadline := time.Now().Add(*duration)
	audioData := generateSyntheticAudio(*speech)

	for range *concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for time.Now().Before(deadline) {
				r := runCandidate(*gateway, *name, audioData, *timeout)
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	if !printSummary(results) {
		os.Exit(1)
	}
}

type runResult struct {
	success   bool
	connectMs float64
	stageMs   map[onboarding.Stage]float64
	totalMs   float64
	fallback  bool
	err       string
}

type serverEvent struct {
	Type    string `json:"type"`
	Step    string `json:"step"`
	Status  string `json:"status"`
	Content string `json:"content"`
}

func runCandidate(gateway, name string, pcm []byte, timeout time.Duration) runResult {
	start := time.Now()
	conn, _, err := websocket.DefaultDialer.Dial(gateway, nil)
	if err != nil {
		return runResult{err: fmt.Sprintf("dial: %v", err)}
	}
	defer conn.Close()

	res := runResult{stageMs: map[onboarding.Stage]float64{}}
	recordID := "rec" + uuid.NewString()[:14]
	if err = conn.WriteJSON(map[string]string{"type": "start", "recordId": recordID, "candidateName": name}); err != nil {
		res.err = fmt.Sprintf("send start: %v", err)
		return res
	}

	if err = awaitStage(conn, onboarding.StageIdentity, timeout, &res); err != nil {
		res.err = err.Error()
		return res
	}
	res.connectMs = msSince(start)

	for _, category := range onboarding.Categories {
		if err = streamAudio(conn, pcm); err != nil {
			res.err = fmt.Sprintf("send audio: %v", err)
			return res
		}

		sent := time.Now()
		conn.WriteJSON(map[string]string{"type": "document_uploading"})
		err = conn.WriteJSON(map[string]any{
			"type":         "verification_result",
			"documentType": string(category),
			"verificationData": onboarding.Verdict{
				IsValid:       true,
				Confidence:    0.95,
				NameMatch:     true,
				ExtractedName: name,
				Issues:        []string{},
				Timestamp:     time.Now().UTC(),
			},
		})
		if err != nil {
			res.err = fmt.Sprintf("send verdict: %v", err)
			return res
		}
		if err = awaitStage(conn, category.Next(), timeout, &res); err != nil {
			res.err = err.Error()
			return res
		}
		res.stageMs[category] = msSince(sent)
	}

	if err = awaitType(conn, "complete", timeout, &res); err != nil {
		res.err = err.Error()
		return res
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))

	res.success = true
	res.totalMs = msSince(start)
	return res
}

// streamAudio sends pcm as 20ms audio_input frames in real time.
func streamAudio(conn *websocket.Conn, pcm []byte) error {
	chunkSize := audio.RealtimeSampleRate / 50 * 2
	for i := 0; i < len(pcm); i += chunkSize {
		end := min(i+chunkSize, len(pcm))
		msg := map[string]string{"type": "audio_input", "audio": base64.StdEncoding.EncodeToString(pcm[i:end])}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		time.Sleep(20 * time.Millisecond)
	}
	return nil
}

func awaitStage(conn *websocket.Conn, want onboarding.Stage, timeout time.Duration, res *runResult) error {
	for {
		ev, err := readEvent(conn, timeout, res)
		if err != nil {
			return fmt.Errorf("waiting for stage %s: %w", want, err)
		}
		if ev.Type == "stage_update" && ev.Step == string(want) {
			return nil
		}
	}
}

func awaitType(conn *websocket.Conn, typ string, timeout time.Duration, res *runResult) error {
	for {
		ev, err := readEvent(conn, timeout, res)
		if err != nil {
			return fmt.Errorf("waiting for %s: %w", typ, err)
		}
		if ev.Type == typ {
			return nil
		}
	}
}

func readEvent(conn *websocket.Conn, timeout time.Duration, res *runResult) (serverEvent, error) {
	conn.SetReadDeadline(time.Now().Add(timeout))
	var ev serverEvent
	_, data, err := conn.ReadMessage()
	if err != nil {
		return ev, err
	}
	if err = json.Unmarshal(data, &ev); err != nil {
		return ev, nil
	}
	if ev.Type == "connection_status" && ev.Status == "fallback" {
		res.fallback = true
	}
	return ev, nil
}

func generateSyntheticAudio(dur time.Duration) []byte {
	sampleRate := audio.RealtimeSampleRate
	numSamples := int(dur.Seconds() * float64(sampleRate))
	buf := make([]byte, numSamples*2)

	for i := range numSamples {
		t := float64(i) / float64(sampleRate)
		sample := math.Sin(2*math.Pi*440*t)*0.3 + (rand.Float64()-0.5)*0.05
		val := int16(sample * math.MaxInt16)
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(val))
	}
	return buf
}

func printSummary(results []runResult) bool {
	var succeeded, failed, fallback int
	var connectAll, totalAll []float64
	stageAll := map[onboarding.Stage][]float64{}
	errs := map[string]int{}

	for _, r := range results {
		if r.fallback {
			fallback++
		}
		if !r.success {
			failed++
			errs[r.err]++
			continue
		}
		succeeded++
		connectAll = append(connectAll, r.connectMs)
		totalAll = append(totalAll, r.totalMs)
		for c, ms := range r.stageMs {
			stageAll[c] = append(stageAll[c], ms)
		}
	}

	fmt.Printf("\n=== Load Test Results ===\n")
	fmt.Printf("Onboardings completed: %d\n", succeeded)
	fmt.Printf("Onboardings failed:    %d\n", failed)
	fmt.Printf("Fallback sessions:     %d\n", fallback)
	for msg, n := range errs {
		fmt.Printf("  %4d × %s\n", n, msg)
	}

	if len(totalAll) == 0 {
		fmt.Println("No successful onboardings to report metrics")
		return false
	}

	fmt.Printf("\n%-9s %8s %8s %8s\n", "Stage", "p50", "p95", "p99")
	row := func(label string, data []float64) {
		fmt.Printf("%-9s %8.0fms %8.0fms %8.0fms\n", label, percentile(data, 50), percentile(data, 95), percentile(data, 99))
	}
	row("connect", connectAll)
	for _, c := range onboarding.Categories {
		row(string(c), stageAll[c])
	}
	row("total", totalAll)
	return failed == 0
}

func percentile(data []float64, pct float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sort.Float64s(data)
	idx := int(math.Ceil(pct/100*float64(len(data)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(data) {
		idx = len(data) - 1
	}
	return data[idx]
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
