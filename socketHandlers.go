package main

import (
	"encoding/json"
	"log"

	socketio "github.com/googollee/go-socket.io"

	"sherlock/detect"
	"sherlock/tasks"
)

type socketController struct {
	registry *tasks.Registry
	scorers  *detect.Registry
}

func newSocketController(registry *tasks.Registry, scorers *detect.Registry) *socketController {
	return &socketController{registry: registry, scorers: scorers}
}

func (c *socketController) emitModelInfo(socket socketio.Conn) {
	socket.Emit("modelInfo", map[string]interface{}{
		"models":        c.scorers.Catalog(),
		"default_model": c.scorers.DefaultID(),
	})
}

func (c *socketController) handleRequestModelInfo(socket socketio.Conn) {
	c.emitModelInfo(socket)
}

// handleSubscribeTask replays the task's current state so a client that
// connects mid-run does not wait for the next transition.
func (c *socketController) handleSubscribeTask(socket socketio.Conn, payload string) {
	var req struct {
		TaskID string `json:"task_id"`
	}
	if err := json.Unmarshal([]byte(payload), &req); err != nil || req.TaskID == "" {
		socket.Emit("taskError", map[string]string{"message": "task_id is required"})
		return
	}

	task, err := c.registry.Get(req.TaskID)
	if err != nil {
		socket.Emit("taskError", map[string]string{"message": "task not found: " + req.TaskID})
		return
	}
	socket.Emit("taskUpdate", task.View())
}

func registerSocketHandlers(server *socketio.Server, controller *socketController) {
	server.OnConnect("/", func(socket socketio.Conn) error {
		socket.SetContext("")
		connURL := socket.URL()
		log.Printf("CONNECTED: %s, transport: %s, remote addr: %s\n", socket.ID(), connURL.String(), socket.RemoteAddr())
		controller.emitModelInfo(socket)
		return nil
	})

	server.OnEvent("/", "requestModelInfo", func(socket socketio.Conn) {
		controller.handleRequestModelInfo(socket)
	})

	server.OnEvent("/", "subscribeTask", func(socket socketio.Conn, msg string) {
		controller.handleSubscribeTask(socket, msg)
	})

	server.OnError("/", func(s socketio.Conn, e error) {
		log.Println("meet error:", e)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		log.Printf("Socket disconnected - ID: %s, Reason: %s\n", s.ID(), reason)
	})
}
