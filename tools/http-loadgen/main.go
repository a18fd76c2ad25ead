// http-loadgen is a tiny, dependency-free HTTP load generator tailored for
// smoke-testing and lightly load-testing the balloon tracker's read API.
// It reuses HTTP connections (keep-alive) and supports concurrency so demo
// scripts run fast on Windows (Git Bash), Ubuntu (WSL), and macOS without
// relying on external tools.
//
// Modes:
//   - positions:  repeatedly GET /balloons?hour_offset=<offset>, cycling
//     offset across 0..23 so the run exercises every retained hour
//   - trajectory: repeatedly GET /balloons/{id} for a configured spread of
//     balloon IDs, approximating a read pattern skewed toward a handful of
//     "hot" balloons a dashboard is watching closely
//
// Usage examples:
//
//	http-loadgen -base=http://127.0.0.1:8080 -mode=positions -n=5000 -c=16
//	http-loadgen -base=http://127.0.0.1:8080 -mode=trajectory -hot_id=balloon_0001 -cold_ids=50 -n=8000 -c=16
//
// Notes:
//   - Prints a one-line summary with duration and approximate throughput.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type modeType string

const (
	modePositions  modeType = "positions"
	modeTrajectory modeType = "trajectory"
)

func main() {
	var (
		base      = flag.String("base", "http://127.0.0.1:8080", "Base URL including scheme and host, e.g. http://127.0.0.1:8080")
		modeS     = flag.String("mode", string(modePositions), "Mode: positions|trajectory")
		hotID     = flag.String("hot_id", "balloon_0001", "Balloon ID hammered most often in trajectory mode")
		coldN     = flag.Int("cold_ids", 50, "Number of cold balloon IDs to round-robin in trajectory mode")
		N         = flag.Int("n", 5000, "Total requests to send")
		conc      = flag.Int("c", 8, "Number of concurrent workers")
		hotEvery  = flag.Int("hot_every", 5, "Skew period in trajectory mode: (hot_every-1)/hot_every of requests hit hot_id")
		maxOffset = flag.Int("max_hour_offset", 23, "Largest hour_offset cycled through in positions mode")
		timeout   = flag.Duration("timeout", 20*time.Second, "Overall timeout for the loadgen run")
		connIdle  = flag.Duration("idle_timeout", 30*time.Second, "HTTP idle connection timeout")
		maxIdle   = flag.Int("max_idle", 256, "Max idle connections total")
		maxIdlePH = flag.Int("max_idle_per_host", 256, "Max idle connections per host")
	)
	flag.Parse()

	m := modeType(strings.ToLower(*modeS))
	if m != modePositions && m != modeTrajectory {
		fmt.Fprintf(os.Stderr, "unknown -mode=%s (want positions|trajectory)\n", *modeS)
		os.Exit(2)
	}
	if *N <= 0 || *conc <= 0 {
		fmt.Fprintln(os.Stderr, "-n and -c must be > 0")
		os.Exit(2)
	}
	if m == modeTrajectory {
		if *coldN <= 0 {
			fmt.Fprintln(os.Stderr, "-cold_ids must be > 0 in trajectory mode")
			os.Exit(2)
		}
		if *hotEvery < 2 {
			*hotEvery = 2
		}
	}
	if *maxOffset < 0 {
		*maxOffset = 0
	}

	baseURL := strings.TrimRight(*base, "/")

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        *maxIdle,
		MaxIdleConnsPerHost: *maxIdlePH,
		IdleConnTimeout:     *connIdle,
	}
	client := &http.Client{Transport: tr, Timeout: 5 * time.Second}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	var done int64

	worker := func(id, count int) {
		defer atomic.AddInt64(&done, int64(count))
		for i := 0; i < count; i++ {
			select {
			case <-ctx.Done():
				return
			default:
			}

			var u string
			if m == modePositions {
				offset := (i + id) % (*maxOffset + 1)
				u = baseURL + "/balloons?" + url.Values{"hour_offset": {strconv.Itoa(offset)}}.Encode()
			} else {
				var balloonID string
				if ((i + id) % *hotEvery) != 0 {
					balloonID = *hotID
				} else {
					idx := ((i + id) % *coldN) + 1
					balloonID = fmt.Sprintf("balloon_%04d", idx)
				}
				u = baseURL + "/balloons/" + url.PathEscape(balloonID)
			}

			req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			resp, err := client.Do(req)
			if err == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			} else {
				time.Sleep(200 * time.Microsecond)
			}
		}
	}

	per := *N / *conc
	rem := *N - per**conc
	var wg sync.WaitGroup
	wg.Add(*conc)
	for w := 0; w < *conc; w++ {
		count := per
		if w == *conc-1 {
			count += rem
		}
		go func(id, n int) {
			defer wg.Done()
			worker(id, n)
		}(w, count)
	}
	wg.Wait()
	elapsed := time.Since(start)
	if elapsed <= 0 {
		elapsed = time.Millisecond
	}
	ops := float64(*N) / elapsed.Seconds()
	fmt.Printf("LoadGen: mode=%s N=%d c=%d go=%d Duration=%s Throughput=%.0f req/s\n", m, *N, *conc, runtime.GOMAXPROCS(0), elapsed.Truncate(time.Millisecond), ops)
}
