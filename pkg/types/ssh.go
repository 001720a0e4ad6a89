package types

// PtyRequest is the structure of an SSH_MSG_CHANNEL_REQUEST
// "pty-req" as described in RFC4254
// https://datatracker.ietf.org/doc/html/rfc4254#section-6.2
type PtyRequest struct {
	TermEnvVar       string
	TermWidthCols    uint32
	TermHeightRows   uint32
	TermWidthPixels  uint32
	TermHeightPixels uint32
	TerminalModes    string
}

// ExecRequest is the payload of an "exec" channel request
// https://datatracker.ietf.org/doc/html/rfc4254#section-6.5
type ExecRequest struct {
	Command string
}

// SubsystemRequest is the payload of a "subsystem" channel request
type SubsystemRequest struct {
	Name string
}

// ExitStatus is the payload of an "exit-status" channel request
// https://datatracker.ietf.org/doc/html/rfc4254#section-6.10
type ExitStatus struct {
	Status uint32
}

// TcpIpChannelMsg is the structure of an SSH_MSG_CHANNEL_OPEN
// "direct-tcpip" and "forwarded-tcpip", as described in RFC4254
// https://datatracker.ietf.org/doc/html/rfc4254#section-7.2
type TcpIpChannelMsg struct {
	DstHost string
	DstPort uint32
	SrcHost string
	SrcPort uint32
}

// TcpIpFwdRequest is the structure of an SSH_MSG_GLOBAL_REQUEST
// as described in RFC4254
// https://datatracker.ietf.org/doc/html/rfc4254#section-7.1
type TcpIpFwdRequest struct {
	BindAddress string
	BindPort    uint32
}

// TcpIpReqSuccess is the structure of an SSH_MSG_REQUEST_SUCCESS
// as described in RFC4254
// https://datatracker.ietf.org/doc/html/rfc4254#section-6.2
type TcpIpReqSuccess struct {
	BoundPort uint32
}
