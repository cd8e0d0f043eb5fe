// Package net registers HTTP and WebSocket host functions
// (net.fetch, net.ws_dial/ws_send/ws_recv/ws_close) into a VM state's
// globals table. Grounded on sentra's internal/vm/network_http.go (the
// http_get/http_request registration pattern, response-as-table shape)
// and internal/vm/network_websocket.go (the ws_connect/ws_send/
// ws_receive/ws_close registration pattern and connection-handle
// convention), adapted from that package's net.NetworkModule
// indirection directly onto net/http and gorilla/websocket, and from
// interface{}-based Values onto ruavm's tagged Value/host API.
package net

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ruavm/internal/vm"
)

// wsRegistry tracks open websocket connections by integer handle, the
// way network_websocket.go's NetworkModule keyed connections by a
// string conn.ID.
type wsRegistry struct {
	mu     sync.Mutex
	conns  map[int64]*websocket.Conn
	nextID int64
}

func newWSRegistry() *wsRegistry { return &wsRegistry{conns: make(map[int64]*websocket.Conn)} }

func (r *wsRegistry) add(c *websocket.Conn) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.conns[r.nextID] = c
	return r.nextID
}

func (r *wsRegistry) get(handle int64) (*websocket.Conn, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[handle]
	if !ok {
		return nil, fmt.Errorf("no such websocket connection: %d", handle)
	}
	return c, nil
}

func (r *wsRegistry) remove(handle int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, handle)
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Register installs the net table (fetch/ws_dial/ws_send/ws_recv/
// ws_close) into s's globals, per spec.md §4.D's register operation.
func Register(s *vm.State) {
	ws := newWSRegistry()

	s.NewTable()
	tbl := s.GetTop()

	s.PushGoFunction("net.fetch", func(s *vm.State) int {
		url := s.ToString(1)
		resp, err := httpClient.Get(url)
		if err != nil {
			s.PushNil()
			s.PushString(err.Error())
			return 2
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			s.PushNil()
			s.PushString(err.Error())
			return 2
		}

		s.NewTable()
		r := s.GetTop()
		s.PushInteger(int64(resp.StatusCode))
		s.SetField(r, "status")
		s.PushString(string(body))
		s.SetField(r, "body")
		return 1
	})
	s.SetField(tbl, "fetch")

	s.PushGoFunction("net.ws_dial", func(s *vm.State) int {
		url := s.ToString(1)
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err != nil {
			s.PushNil()
			s.PushString(err.Error())
			return 2
		}
		s.PushInteger(ws.add(conn))
		return 1
	})
	s.SetField(tbl, "ws_dial")

	s.PushGoFunction("net.ws_send", func(s *vm.State) int {
		handle := s.ToInteger(1)
		msg := s.ToString(2)
		conn, err := ws.get(handle)
		if err != nil {
			s.PushBoolean(false)
			s.PushString(err.Error())
			return 2
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			s.PushBoolean(false)
			s.PushString(err.Error())
			return 2
		}
		s.PushBoolean(true)
		return 1
	})
	s.SetField(tbl, "ws_send")

	s.PushGoFunction("net.ws_recv", func(s *vm.State) int {
		handle := s.ToInteger(1)
		conn, err := ws.get(handle)
		if err != nil {
			s.PushNil()
			s.PushString(err.Error())
			return 2
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			s.PushNil()
			s.PushString(err.Error())
			return 2
		}
		s.PushString(string(msg))
		return 1
	})
	s.SetField(tbl, "ws_recv")

	s.PushGoFunction("net.ws_close", func(s *vm.State) int {
		handle := s.ToInteger(1)
		conn, err := ws.get(handle)
		if err != nil {
			s.PushBoolean(false)
			s.PushString(err.Error())
			return 2
		}
		ws.remove(handle)
		err = conn.Close()
		s.PushBoolean(err == nil)
		return 1
	})
	s.SetField(tbl, "ws_close")

	s.SetGlobal("net")
}
