package conf

// Standard SSH Channel Types
const (
	SSHChannelSession        = "session"
	SSHChannelDirectTCPIP    = "direct-tcpip"
	SSHChannelForwardedTCPIP = "forwarded-tcpip"
)

// Standard SSH Request Types
const (
	SSHRequestExec               = "exec"
	SSHRequestShell              = "shell"
	SSHRequestSubsystem          = "subsystem"
	SSHRequestPTY                = "pty-req"
	SSHRequestWindowChange       = "window-change"
	SSHRequestEnv                = "env"
	SSHRequestExitStatus         = "exit-status"
	SSHRequestKeepAlive          = "keepalive@openssh.com"
	SSHRequestTcpIpForward       = "tcpip-forward"
	SSHRequestCancelTcpIpForward = "cancel-tcpip-forward"
)

// Subsystems
const (
	SSHSubsystemSFTP = "sftp"
)

// Session config keys understood by the transport
const (
	SSHConfigStrictHostKeyChecking    = "StrictHostKeyChecking"
	SSHConfigPreferredAuthentications = "PreferredAuthentications"
	SSHConfigServerAliveInterval      = "ServerAliveInterval"
	SSHConfigServerAliveCountMax      = "ServerAliveCountMax"
	SSHConfigKexAlgorithms            = "KexAlgorithms"
	SSHConfigHostKeyAlgorithms        = "HostKeyAlgorithms"
	SSHConfigMACs                     = "MACs"
)

// DefaultPreferredAuthentications mirrors the OpenSSH client order
const DefaultPreferredAuthentications = "publickey,keyboard-interactive,password"
