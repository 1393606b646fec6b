package bus

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
)

const (
	SubjectConfigUpdated     = "config.updated"
	SubjectHeaderMonitored   = "header.monitored"
	SubjectHeaderUnmonitored = "header.unmonitored"
	SubjectProjectUpdated    = "project.updated"
)

type Subscriber struct {
	Conn *nats.Conn
}

// Event is the envelope shared by all subjects; producers fill the fields
// relevant to theirs. Header subjects carry header_id, project.updated
// carries the project block.
type Event struct {
	HeaderID    string `json:"header_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	CompanyID   string `json:"company_id,omitempty"`
	StageID     string `json:"stage_id,omitempty"`
	ProjectName string `json:"project_name,omitempty"`
}

func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &Subscriber{Conn: conn}, nil
}

func (s *Subscriber) Close() {
	if s.Conn != nil {
		s.Conn.Drain()
		s.Conn.Close()
	}
}

func (s *Subscriber) Subscribe(subject string, handler func(Event)) (*nats.Subscription, error) {
	return s.Conn.Subscribe(subject, func(msg *nats.Msg) {
		var evt Event
		_ = json.Unmarshal(msg.Data, &evt)
		handler(evt)
	})
}
