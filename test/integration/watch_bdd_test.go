//go:build integration

package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hamed0406/flatwatch/internal/domain"
	"github.com/hamed0406/flatwatch/internal/httpapi"
	"github.com/hamed0406/flatwatch/internal/hub"
	"github.com/hamed0406/flatwatch/internal/notify"
	"github.com/hamed0406/flatwatch/internal/probe"
	"github.com/hamed0406/flatwatch/internal/repo/jsonfile"
	"github.com/hamed0406/flatwatch/internal/watch"
)

type staticSource struct {
	sched  domain.ScheduleConfig
	params domain.SearchParams
}

func (s *staticSource) WatchConfig() (domain.ScheduleConfig, domain.SearchParams, error) {
	return s.sched, s.params, nil
}

// The scenario: a stub housing portal answers the vacancy search, a stub
// webhook plays the notification channel, and the real stack runs in
// between, from the HTTP API down to the jsonfile store on disk.
var _ = Describe("Vacancy watch", func() {
	var (
		ctx      context.Context
		vacancy  atomic.Bool
		received chan string

		portal  *httptest.Server
		webhook *httptest.Server
		api     *httptest.Server

		dataDir string
		store   *jsonfile.Store
		events  *hub.Hub
		sched   *watch.Scheduler
	)

	fetchStatus := func() domain.WatchStatus {
		resp, err := http.Get(api.URL + "/api/status")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var st domain.WatchStatus
		Expect(json.NewDecoder(resp.Body).Decode(&st)).To(Succeed())
		return st
	}

	fetchLogs := func() []domain.LogEntry {
		resp, err := http.Get(api.URL + "/api/logs")
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		var entries []domain.LogEntry
		Expect(json.NewDecoder(resp.Body).Decode(&entries)).To(Succeed())
		return entries
	}

	startWatch := func() {
		resp, err := http.Post(api.URL+"/api/watch/start", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	}

	totalChecks := func() uint64 { return fetchStatus().TotalChecks }

	BeforeEach(func() {
		ctx = context.Background()
		vacancy.Store(false)
		received = make(chan string, 8)

		portal = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.ParseForm()).To(Succeed())
			if vacancy.Load() {
				fmt.Fprintf(w, "<html><body>1 woning available in %s</body></html>", r.PostFormValue("city"))
				return
			}
			fmt.Fprint(w, "<html><body>no results for this search</body></html>")
		}))

		webhook = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var p struct {
				Text string `json:"text"`
			}
			Expect(json.NewDecoder(r.Body).Decode(&p)).To(Succeed())
			received <- p.Text
		}))

		dataDir = GinkgoT().TempDir()
		var err error
		store, err = jsonfile.New(dataDir)
		Expect(err).NotTo(HaveOccurred())

		logger := zap.NewNop()
		events = hub.New(logger)
		state := watch.NewState(domain.WatchStatus{})
		artifactDir := filepath.Join(dataDir, "artifacts")
		prober := probe.NewForm(5*time.Second, artifactDir)
		notifier := notify.Multi{notify.NewWebhook(webhook.URL)}

		source := &staticSource{
			sched: domain.ScheduleConfig{IntervalSeconds: 1, Headless: true},
			params: domain.SearchParams{
				FormURL:         portal.URL,
				Fields:          map[string]string{"city": "leiden"},
				FoundMarkers:    []string{"available"},
				NotFoundMarkers: []string{"no results"},
			},
		}

		pipe := watch.NewPipeline(logger, state, prober, notifier, []string{"me@example.com"},
			store, store, events, 10*time.Second)
		sched = watch.NewScheduler(logger, state, source, pipe, store, store, events)

		srv := httpapi.NewServer(logger, sched, artifactDir)
		api = httptest.NewServer(srv.Router(nil, 0, 0))
	})

	AfterEach(func() {
		sched.Stop(ctx)
		api.Close()
		events.Close()
		webhook.Close()
		portal.Close()
	})

	It("keeps checking while nothing is listed", func() {
		startWatch()

		Eventually(totalChecks, "5s", "100ms").Should(BeNumerically(">=", 2))

		st := fetchStatus()
		Expect(st.Running).To(BeTrue())
		Expect(st.LastResult).To(Equal("no vacancies listed"))
		Expect(st.LastCheckTime).NotTo(BeNil())

		entries := fetchLogs()
		Expect(entries).NotTo(BeEmpty())
		for _, e := range entries {
			Expect(e.Found).To(BeFalse())
		}
	})

	It("notifies exactly once and stands down when a vacancy appears", func() {
		startWatch()
		Eventually(totalChecks, "5s", "100ms").Should(BeNumerically(">=", 1))

		vacancy.Store(true)

		var text string
		Eventually(received, "5s").Should(Receive(&text))
		Expect(text).To(ContainSubstring("Vacancy found"))
		Expect(text).To(ContainSubstring("evidence:"))

		Eventually(func() bool { return fetchStatus().Running }, "5s", "100ms").Should(BeFalse())
		Expect(fetchStatus().LastResult).To(Equal("vacancy found, notification delivered; watch stopped"))

		// stood down: no more checks, no second notice
		checks := totalChecks()
		Consistently(received, "2500ms").ShouldNot(Receive())
		Expect(totalChecks()).To(Equal(checks))

		// both found-marked entries are in the log, newest first
		entries := fetchLogs()
		Expect(len(entries)).To(BeNumerically(">=", 2))
		Expect(entries[0].Found).To(BeTrue())
		Expect(entries[0].Message).To(ContainSubstring("notification delivered"))
		Expect(entries[1].Found).To(BeTrue())
		Expect(entries[1].Message).To(ContainSubstring("vacancy listed"))
		Expect(entries[1].ArtifactRef).NotTo(BeEmpty())

		// the captured evidence is served over HTTP
		resp, err := http.Get(api.URL + "/artifacts/" + filepath.Base(entries[1].ArtifactRef))
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		page, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(page)).To(ContainSubstring("available"))
	})

	It("streams a status snapshot and live events to a websocket subscriber", func() {
		wsURL := "ws" + strings.TrimPrefix(api.URL, "http") + "/api/events"
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()
		Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())

		var first domain.Event
		Expect(conn.ReadJSON(&first)).To(Succeed())
		Expect(first.Type).To(Equal(domain.EventStatusUpdate))

		resp, err := http.Post(api.URL+"/api/check", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var types []domain.EventType
		for len(types) < 5 {
			var ev domain.Event
			Expect(conn.ReadJSON(&ev)).To(Succeed())
			types = append(types, ev.Type)
		}
		Expect(types[0]).To(Equal(domain.EventProgress))
		Expect(types).To(ContainElement(domain.EventLogAdded))
		Expect(types).To(ContainElement(domain.EventStatusUpdate))
	})

	It("persists enough to resume after a restart", func() {
		startWatch()

		// wait for the cycle's persist, not just the in-memory counter
		Eventually(func() uint64 {
			st, ok, err := store.LoadStatus(ctx)
			Expect(err).NotTo(HaveOccurred())
			if !ok {
				return 0
			}
			return st.TotalChecks
		}, "5s", "100ms").Should(BeNumerically(">=", 1))

		// a shutdown halts the loop but leaves the saved status running
		sched.Halt()

		reopened, err := jsonfile.New(dataDir)
		Expect(err).NotTo(HaveOccurred())
		st, ok, err := reopened.LoadStatus(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		Expect(st.Running).To(BeTrue(), "the saved status is the resume signal for the next boot")
		Expect(st.TotalChecks).To(BeNumerically(">=", 1))
	})
})
