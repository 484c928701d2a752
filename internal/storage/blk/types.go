package blk

// Raw JSON representation from lsblk --bytes --json
type rawTree struct {
	Blockdevices []rawDevice `json:"blockdevices"`
}

type rawDevice struct {
	Name       string      `json:"name"`
	KName      string      `json:"kname"`
	Path       string      `json:"path"`
	Size       any         `json:"size"` // number (bytes) when using --bytes
	Rota       *bool       `json:"rota,omitempty"`
	Type       string      `json:"type"`
	Tran       string      `json:"tran,omitempty"`
	Model      string      `json:"model,omitempty"`
	Serial     string      `json:"serial,omitempty"`
	Mountpoint *string     `json:"mountpoint,omitempty"`
	FSType     string      `json:"fstype,omitempty"`
	RM         *bool       `json:"rm,omitempty"`
	Children   []rawDevice `json:"children,omitempty"`
}

// Device is the normalized block device as reported by lsblk.
type Device struct {
	Name       string
	Path       string
	SizeBytes  uint64
	Model      string
	Serial     string
	Tran       string
	Rota       *bool
	Removable  *bool
	Type       string
	FSType     string
	Mountpoint string
	Children   []Device
}

// Mounted lists the device and children that currently have a mountpoint.
func (d Device) Mounted() []string {
	var out []string
	if d.Mountpoint != "" {
		out = append(out, d.Path+" on "+d.Mountpoint)
	}
	for _, c := range d.Children {
		out = append(out, c.Mounted()...)
	}
	return out
}
