// Package trace implements the run's data collector and its JSON
// serialization, grounded on original_source's common/collector.py
// (DataCollector) and, for the mutex-guarded accumulation pattern, on the
// teacher's pkg/monitoring/collector/collector.go.
package trace

import "sync"

const decimals = 2

// ClientRequest is one successful client round trip.
type ClientRequest struct {
	Time    float64
	Latency float64
	Hops    int
}

// KeyValueRecord is one observed (time, key, value) triple, used for both
// returned_value and true_value.
type KeyValueRecord struct {
	Time  float64
	Key   string
	Value interface{}
}

type queueSample struct {
	Time float64
	QLen int
}

// Collector accumulates everything the run phase observes. It is
// safe for concurrent use even though the kernel itself is single
// threaded, because kernel.Task goroutines are still distinct goroutines
// parked behind channels - the collector may be touched from more than one
// of them between rendezvous points.
type Collector struct {
	mu sync.Mutex

	timedOutRequests []float64
	clientRequests   []ClientRequest
	queueLoad        map[string][]queueSample
	joinedTime       map[string]float64
	crashedTime      map[string]float64
	returnedValue    []KeyValueRecord
	trueValue        []KeyValueRecord
	failedToJoin     []float64
	messagesAfterCrash map[string][]float64
}

// New returns an empty Collector.
func New() *Collector {
	return &Collector{
		queueLoad:          make(map[string][]queueSample),
		joinedTime:         make(map[string]float64),
		crashedTime:        make(map[string]float64),
		messagesAfterCrash: make(map[string][]float64),
	}
}

// Clear discards everything the run phase produces while keeping
// timed_out_requests, joined_time, and messages_after_crash, matching
// common/collector.py's clear() (called once between the build and run
// phases, so build-phase joins remain but nothing else from it leaks in).
func (c *Collector) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientRequests = nil
	c.queueLoad = make(map[string][]queueSample)
	c.crashedTime = make(map[string]float64)
}

func (c *Collector) RecordTimedOut(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timedOutRequests = append(c.timedOutRequests, t)
}

func (c *Collector) RecordClientRequest(t, latency float64, hops int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientRequests = append(c.clientRequests, ClientRequest{Time: t, Latency: latency, Hops: hops})
}

func (c *Collector) RecordQueueLoad(node string, t float64, qlen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queueLoad[node] = append(c.queueLoad[node], queueSample{Time: t, QLen: qlen})
}

func (c *Collector) RecordJoined(node string, t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joinedTime[node] = t
}

func (c *Collector) RecordCrashed(node string, t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crashedTime[node] = t
}

func (c *Collector) RecordReturnedValue(t float64, key string, val interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.returnedValue = append(c.returnedValue, KeyValueRecord{Time: t, Key: key, Value: val})
}

func (c *Collector) RecordTrueValue(t float64, key string, val interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.trueValue = append(c.trueValue, KeyValueRecord{Time: t, Key: key, Value: val})
}

func (c *Collector) RecordFailedToJoin(t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failedToJoin = append(c.failedToJoin, t)
}

// RecordMessageAfterCrash logs that node, already crashed, still received
// a packet at time t - the restored messages_after_crash field.
func (c *Collector) RecordMessageAfterCrash(node string, t float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messagesAfterCrash[node] = append(c.messagesAfterCrash[node], t)
}
