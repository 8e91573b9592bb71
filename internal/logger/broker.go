package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	brokerMu          sync.Mutex
	brokerLog         *log.Logger
	brokerDumpPayload bool
)

// SetBrokerWriter 设置券商报文日志的输出；nil 表示关闭。
func SetBrokerWriter(w io.Writer) {
	brokerMu.Lock()
	defer brokerMu.Unlock()
	if w == nil {
		brokerLog = nil
		return
	}
	brokerLog = log.New(w, "", log.LstdFlags)
}

func EnableBrokerPayloadDump(enabled bool) {
	brokerMu.Lock()
	brokerDumpPayload = enabled
	brokerMu.Unlock()
}

type brokerSection struct {
	Title string
	Body  string
}

func logBroker(kind, method, target string, sections []brokerSection) {
	brokerMu.Lock()
	l := brokerLog
	dump := brokerDumpPayload
	brokerMu.Unlock()
	if l == nil || !dump {
		return
	}
	var b strings.Builder
	b.WriteString("[BROKER]")
	for _, tag := range []string{kind, method, target} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "BODY"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	l.Print(b.String())
}

// LogBrokerRequest 记录发往券商的请求报文。
func LogBrokerRequest(method, target, payload string) {
	if strings.TrimSpace(payload) == "" {
		payload = "<empty>"
	}
	logBroker("request", method, target, []brokerSection{{Title: "PAYLOAD", Body: payload}})
}

// LogBrokerResponse 记录券商返回的原始报文。
func LogBrokerResponse(method, target, status, raw string) {
	logBroker("response", method, target, []brokerSection{
		{Title: "STATUS", Body: status},
		{Title: "RAW", Body: raw},
	})
}

// LogBrokerEvent 记录事件流中收到的原始事件。
func LogBrokerEvent(stream, id, raw string) {
	logBroker("event", stream, id, []brokerSection{{Title: "DATA", Body: raw}})
}
