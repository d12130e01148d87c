package trace

import (
	"encoding/json"
	"math"
)

// Document is the exact §6 JSON shape, plus the restored
// messages_after_crash key appended additively. Field order here matches
// field order in the document's source-level description; encoding/json
// preserves struct field order on marshal.
type Document struct {
	TimedOutRequests   []float64              `json:"timed_out_requests"`
	ClientRequests     [][3]float64           `json:"client_requests"`
	QueueLoad          map[string][][2]float64 `json:"queue_load"`
	JoinedTime         map[string]float64     `json:"joined_time"`
	CrashedTime        map[string]float64     `json:"crashed_time"`
	ReturnedValue      []keyValueTriple       `json:"returned_value"`
	TrueValue          []keyValueTriple       `json:"true_value"`
	FailedToJoin       []float64              `json:"failed_to_join"`
	MessagesAfterCrash map[string][]float64   `json:"messages_after_crash,omitempty"`
}

// keyValueTriple marshals as the 3-element [time, key, value] array the
// spec's returned_value/true_value fields use.
type keyValueTriple struct {
	Time  float64
	Key   string
	Value interface{}
}

func (k keyValueTriple) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{round2(k.Time), k.Key, k.Value})
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ToDocument snapshots the collector into the final, rounded shape ready
// for JSON encoding.
func (c *Collector) ToDocument() Document {
	c.mu.Lock()
	defer c.mu.Unlock()

	doc := Document{
		TimedOutRequests: roundAll(c.timedOutRequests),
		JoinedTime:       roundMap(c.joinedTime),
		CrashedTime:      roundMap(c.crashedTime),
		FailedToJoin:     roundAll(c.failedToJoin),
	}

	doc.ClientRequests = make([][3]float64, len(c.clientRequests))
	for i, r := range c.clientRequests {
		doc.ClientRequests[i] = [3]float64{round2(r.Time), round2(r.Latency), float64(r.Hops)}
	}

	doc.QueueLoad = make(map[string][][2]float64, len(c.queueLoad))
	for node, samples := range c.queueLoad {
		pairs := make([][2]float64, len(samples))
		for i, s := range samples {
			pairs[i] = [2]float64{round2(s.Time), float64(s.QLen)}
		}
		doc.QueueLoad[node] = pairs
	}

	doc.ReturnedValue = make([]keyValueTriple, len(c.returnedValue))
	for i, r := range c.returnedValue {
		doc.ReturnedValue[i] = keyValueTriple{Time: round2(r.Time), Key: r.Key, Value: r.Value}
	}
	doc.TrueValue = make([]keyValueTriple, len(c.trueValue))
	for i, r := range c.trueValue {
		doc.TrueValue[i] = keyValueTriple{Time: round2(r.Time), Key: r.Key, Value: r.Value}
	}

	if len(c.messagesAfterCrash) > 0 {
		doc.MessagesAfterCrash = make(map[string][]float64, len(c.messagesAfterCrash))
		for node, ts := range c.messagesAfterCrash {
			doc.MessagesAfterCrash[node] = roundAll(ts)
		}
	}

	return doc
}

func roundAll(vs []float64) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = round2(v)
	}
	return out
}

func roundMap(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = round2(v)
	}
	return out
}
