package nbexec

// MessageHeader is the header of a kernel protocol message.
type MessageHeader struct {
	MsgID    string `json:"msg_id"`
	MsgType  string `json:"msg_type"`
	Session  string `json:"session,omitempty"`
	Username string `json:"username,omitempty"`
	Date     string `json:"date,omitempty"`
	Version  string `json:"version,omitempty"`
}

// Message is a kernel protocol message as delivered on the iopub or
// stdin channel. Content is kept schemaless: the set of fields depends
// on Header.MsgType and only the output transformer interprets it.
type Message struct {
	Header       MessageHeader  `json:"header"`
	ParentHeader map[string]any `json:"parent_header,omitempty"`
	Content      map[string]any `json:"content"`
}

// headerMap flattens a header into the schemaless map shape used for
// parent headers on the wire. Empty fields are kept out.
func headerMap(h MessageHeader) map[string]any {
	m := map[string]any{
		"msg_id":   h.MsgID,
		"msg_type": h.MsgType,
	}
	if h.Session != "" {
		m["session"] = h.Session
	}
	if h.Username != "" {
		m["username"] = h.Username
	}
	if h.Date != "" {
		m["date"] = h.Date
	}
	if h.Version != "" {
		m["version"] = h.Version
	}
	return m
}

// ReplyContent is the content of an execute_reply shell message.
type ReplyContent struct {
	Status         string `json:"status"`
	ExecutionCount *int   `json:"execution_count,omitempty"`
}

// Reply is the shell-channel reply returned by an interactive execution.
type Reply struct {
	Content ReplyContent `json:"content"`
}
