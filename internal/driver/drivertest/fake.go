// Package drivertest provides an in-process fake of the messaging driver's
// HTTP API.
package drivertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
)

type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Message struct {
	Contact string `json:"contact"`
	Message string `json:"message"`
}

type Poll struct {
	Contact  string   `json:"contact"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
}

// Driver is a scriptable fake driver. Zero values answer 200 and ready.
type Driver struct {
	*httptest.Server

	mu           sync.Mutex
	statusCodes  []int
	notReady     bool
	groups       []Group
	groupsStatus int
	sendStatus   int
	messages     []Message
	polls        []Poll
	statusCalls  int
	groupsCalls  int
}

func New() *Driver {
	d := &Driver{}
	mux := http.NewServeMux()
	mux.HandleFunc("/status", d.status)
	mux.HandleFunc("/get_groups", d.getGroups)
	mux.HandleFunc("/send_message", d.sendMessage)
	mux.HandleFunc("/send_poll", d.sendPoll)
	d.Server = httptest.NewServer(mux)
	return d
}

// QueueStatus makes the next GET /status calls answer the given codes in
// order; afterwards /status answers 200 again.
func (d *Driver) QueueStatus(codes ...int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statusCodes = append(d.statusCodes, codes...)
}

func (d *Driver) SetReady(ready bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notReady = !ready
}

func (d *Driver) SetGroups(groups ...Group) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups = groups
}

func (d *Driver) SetGroupsStatus(code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groupsStatus = code
}

func (d *Driver) SetSendStatus(code int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendStatus = code
}

func (d *Driver) Messages() []Message {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Message(nil), d.messages...)
}

func (d *Driver) Polls() []Poll {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Poll(nil), d.polls...)
}

func (d *Driver) StatusCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusCalls
}

func (d *Driver) GroupsCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.groupsCalls
}

func (d *Driver) status(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.statusCalls++
	code := http.StatusOK
	if len(d.statusCodes) > 0 {
		code = d.statusCodes[0]
		d.statusCodes = d.statusCodes[1:]
	}
	ready := !d.notReady
	d.mu.Unlock()

	if code != http.StatusOK {
		http.Error(w, "unavailable", code)
		return
	}
	writeJSON(w, map[string]any{"ready": ready})
}

func (d *Driver) getGroups(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	d.groupsCalls++
	code := d.groupsStatus
	groups := append([]Group{}, d.groups...)
	d.mu.Unlock()

	if code != 0 && code != http.StatusOK {
		http.Error(w, "groups unavailable", code)
		return
	}
	writeJSON(w, map[string]any{"groups": groups})
}

func (d *Driver) sendMessage(w http.ResponseWriter, r *http.Request) {
	var m Message
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.mu.Lock()
	code := d.sendStatus
	if code == 0 || code == http.StatusOK {
		d.messages = append(d.messages, m)
	}
	d.mu.Unlock()

	if code != 0 && code != http.StatusOK {
		http.Error(w, "send failed", code)
		return
	}
	writeJSON(w, map[string]any{"success": true})
}

func (d *Driver) sendPoll(w http.ResponseWriter, r *http.Request) {
	var p Poll
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	d.mu.Lock()
	code := d.sendStatus
	if code == 0 || code == http.StatusOK {
		d.polls = append(d.polls, p)
	}
	d.mu.Unlock()

	if code != 0 && code != http.StatusOK {
		http.Error(w, "send failed", code)
		return
	}
	writeJSON(w, map[string]any{"method": "native"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
