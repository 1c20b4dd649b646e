// Simulator drives the defense pipeline with a mix of benign traffic,
// attack payloads and floods, and reports the response-code
// distribution.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

type Simulator struct {
	serverURL string
	client    *http.Client

	mu     sync.Mutex
	counts map[string]map[int]int
}

func NewSimulator(serverURL string) *Simulator {
	return &Simulator{
		serverURL: serverURL,
		client:    &http.Client{Timeout: 5 * time.Second},
		counts:    make(map[string]map[int]int),
	}
}

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X)",
}

var benignPaths = []string{
	"/api/v1/books",
	"/api/v1/quotes",
	"/health",
}

var attackQueries = []string{
	"q=' OR 1=1 --",
	"q=<script>alert(1)</script>",
	"file=../../etc/passwd",
	"cmd=; cat /etc/shadow",
	"url=gopher://169.254.169.254/",
}

func (s *Simulator) record(kind string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.counts[kind] == nil {
		s.counts[kind] = make(map[int]int)
	}
	s.counts[kind][status]++
}

func (s *Simulator) send(kind, path, rawQuery, ua string) {
	target := s.serverURL + path
	if rawQuery != "" {
		target += "?" + url.PathEscape(rawQuery)
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return
	}
	req.Header.Set("User-Agent", ua)

	resp, err := s.client.Do(req)
	if err != nil {
		s.record(kind, 0)
		return
	}
	resp.Body.Close()
	s.record(kind, resp.StatusCode)
}

// runNormal sends a slow stream of legitimate-looking requests, each
// from a random synthetic client.
func (s *Simulator) runNormal(done <-chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.send("normal",
				benignPaths[rand.Intn(len(benignPaths))],
				"",
				userAgents[rand.Intn(len(userAgents))])
		}
	}
}

// runAttacks sends recognizable attack payloads from one client so its
// reputation degrades visibly.
func (s *Simulator) runAttacks(done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			s.send("attack",
				"/api/v1/books",
				attackQueries[rand.Intn(len(attackQueries))],
				"sqlmap/1.7")
		}
	}
}

// runFlood hammers one route from a single client until the limiter
// pushes back.
func (s *Simulator) runFlood(done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
			s.send("flood", "/api/v1/quotes", "", "curl/7.68.0")
		}
	}
}

func (s *Simulator) report() {
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := make([]string, 0, len(s.counts))
	for kind := range s.counts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)

	fmt.Println(strings.Repeat("-", 40))
	for _, kind := range kinds {
		statuses := make([]int, 0, len(s.counts[kind]))
		for status := range s.counts[kind] {
			statuses = append(statuses, status)
		}
		sort.Ints(statuses)
		for _, status := range statuses {
			label := fmt.Sprintf("%d", status)
			if status == 0 {
				label = "err"
			}
			fmt.Printf("%-8s %-4s %6d\n", kind, label, s.counts[kind][status])
		}
	}
}

func main() {
	target := flag.String("target", "http://localhost:8888", "server base URL")
	duration := flag.Duration("duration", 30*time.Second, "how long to run")
	flood := flag.Bool("flood", true, "include a single-client flood")
	flag.Parse()

	sim := NewSimulator(*target)
	done := make(chan struct{})

	var wg sync.WaitGroup
	run := func(f func(<-chan struct{})) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f(done)
		}()
	}

	run(sim.runNormal)
	run(sim.runAttacks)
	if *flood {
		run(sim.runFlood)
	}

	fmt.Printf("simulating against %s for %s\n", *target, *duration)
	time.Sleep(*duration)
	close(done)
	wg.Wait()

	sim.report()
}
