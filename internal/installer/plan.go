package installer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/master-of-zen/alpine-autoinstall/internal/bootcfg"
	"github.com/master-of-zen/alpine-autoinstall/internal/devpath"
	"github.com/master-of-zen/alpine-autoinstall/internal/efi"
	"github.com/master-of-zen/alpine-autoinstall/internal/partition"
	"github.com/master-of-zen/alpine-autoinstall/internal/zfs"
	"github.com/master-of-zen/alpine-autoinstall/pkg/shell"
)

// Placeholders stand in for values only known while installing.
const (
	PlaceholderKernel = "<kernel-version>"
	PlaceholderUUID   = "<efi-uuid>"
)

// PlanStep is one action of a run. Command is empty for file edits done by
// the installer itself.
type PlanStep struct {
	ID          string `json:"id" yaml:"id"`
	Stage       string `json:"stage" yaml:"stage"`
	Description string `json:"description" yaml:"description"`
	Command     string `json:"command,omitempty" yaml:"command,omitempty"`
	Destructive bool   `json:"destructive,omitempty" yaml:"destructive,omitempty"`
	Tolerant    bool   `json:"tolerant,omitempty" yaml:"tolerant,omitempty"`
}

// CreatePlan describes a full run without executing it.
type CreatePlan struct {
	Device     devpath.Device   `json:"device" yaml:"device"`
	Class      string           `json:"class" yaml:"class"`
	Partitions partition.Layout `json:"partitions" yaml:"partitions"`
	Pool       zfs.PoolSpec     `json:"pool" yaml:"pool"`
	Datasets   []zfs.Dataset    `json:"datasets" yaml:"datasets"`
	Steps      []PlanStep       `json:"steps" yaml:"steps"`
}

type planner struct {
	stage string
	n     int
	steps []PlanStep
}

func (p *planner) enter(stage string) { p.stage, p.n = stage, 0 }

func (p *planner) add(desc string, c *shell.Cmd) *PlanStep {
	p.n++
	s := PlanStep{ID: p.stage + "-" + strconv.Itoa(p.n), Stage: p.stage, Description: desc}
	if c != nil {
		s.Command = c.String()
	}
	p.steps = append(p.steps, s)
	return &p.steps[len(p.steps)-1]
}

func (p *planner) run(desc string, c shell.Cmd) *PlanStep { return p.add(desc, &c) }

// Plan resolves the device and lists every action a run would take, in
// order. Nothing is executed and the disk is not inspected.
func (i *Installer) Plan() (CreatePlan, error) {
	cfg := i.Config
	if err := cfg.Validate(); err != nil {
		return CreatePlan{}, err
	}
	i.dev = devpath.Resolve(cfg.Disk, cfg.UseByID)
	sp, err := i.poolSpec()
	if err != nil {
		return CreatePlan{}, err
	}
	dl := cfg.Layout()
	pl := i.layout()
	out := CreatePlan{
		Device:     i.dev,
		Class:      i.dev.Class.String(),
		Partitions: pl,
		Pool:       sp,
		Datasets:   append([]zfs.Dataset{dl.Root(), dl.BootEnv()}, dl.Auxiliary()...),
	}

	p := &planner{}
	p.enter("preflight")
	p.add("check root privileges, required tools, disk size and pool name", nil)
	p.enter("confirm")
	if cfg.NonInteractive {
		p.add("confirmation skipped (--yes)", nil)
	} else {
		p.add("ask the operator to confirm and type "+cfg.Disk, nil)
	}
	p.enter("resolve")
	p.add(fmt.Sprintf("use %s (%s), partitions %s and %s", i.dev.Base, i.dev.Class, i.dev.EFI, i.dev.ZFS), nil)

	p.enter("partition")
	for n, c := range pl.Commands(i.dev.Base) {
		s := p.run("write partition table", c)
		s.Destructive = n < 3
		s.Tolerant = n == 0
	}
	p.add("wait for "+i.dev.EFI+" and "+i.dev.ZFS, nil)
	p.run("format EFI partition", partition.FormatESP(i.dev.EFI, cfg.EFILabel)).Destructive = true

	p.enter("pool")
	p.run("create encrypted pool", zfs.CreatePool(sp)).Destructive = true

	p.enter("datasets")
	p.run("create "+dl.Root().Name, shell.New("zfs", dl.Root().CreateArgs()...))
	p.run("create "+dl.BootEnvName(), shell.New("zfs", dl.BootEnv().CreateArgs()...))
	p.run("mount boot environment", shell.New("zfs", "mount", dl.BootEnvName()))
	for _, d := range dl.Auxiliary() {
		p.run("create "+d.Name, shell.New("zfs", d.CreateArgs()...))
		if d.Mode != 0 {
			p.add(fmt.Sprintf("chmod %o %s", d.Mode.Perm()|0o1000, i.target(d.Mountpoint)), nil)
		}
	}

	p.enter("bootstrap")
	p.run("mount EFI partition", i.mountESPCmd(i.dev.EFI))
	p.run("install base system", i.setupDiskCmd())
	p.add("copy /"+repositoriesFile+" into the target", nil)
	p.add("copy /etc/hostid into the target", nil).Tolerant = true
	for _, fs := range pseudoFS {
		p.run("make /"+fs+" available in the target", i.bindCmd(fs)).Tolerant = true
	}
	p.run("refresh package indexes", i.apkUpdateCmd()).Tolerant = true
	p.run("install "+strings.Join(i.Packages(), " "), i.apkAddCmd())
	for _, svc := range Services {
		p.run("enable "+svc, i.rcUpdateCmd(svc))
	}

	p.enter("bootconfig")
	p.add("write /etc/hostname and /etc/hosts for "+cfg.Hostname, nil)
	p.add("set timezone "+cfg.Timezone, nil).Tolerant = true
	p.add(`set features="`+bootcfg.Features+`" in /`+bootcfg.MkinitfsConf, nil)
	p.run("regenerate initramfs", i.mkinitfsCmd(PlaceholderKernel))
	p.run("read EFI filesystem UUID", blkidCmd(i.dev.EFI))
	p.add("ensure fstab line: "+bootcfg.FstabLine(PlaceholderUUID), nil)
	if cfg.RootPassword != "" {
		p.run("set root password", i.chpasswdCmd())
	}
	if cfg.SSHKeyFile != "" {
		p.add("append "+cfg.SSHKeyFile+" to /root/.ssh/authorized_keys", nil)
	}

	p.enter("bootloader")
	p.add("download "+cfg.BootloaderURL+" to "+i.target(bootcfg.EFIMount, cfg.BootloaderPath), nil)
	p.run("mount efivarfs when missing", efi.MountEfivarfs()).Tolerant = true
	p.run("register boot entry", i.bootEntry(pl.Parts[0].Number).Command())
	if cfg.KernelCmdline != "" {
		set := shell.New("zfs", "set", CmdlineProperty+"="+cfg.KernelCmdline, dl.Root().Name)
		p.run("set boot manager kernel command line", set).Tolerant = true
	}

	p.enter("finalize")
	p.add("copy install log into the target", nil).Tolerant = true
	p.run("set boot filesystem", shell.New("zpool", "set", "bootfs="+dl.BootEnvName(), cfg.PoolName))
	p.run("unmount target", i.umountCmd())
	p.run("export pool", shell.New("zpool", "export", cfg.PoolName))

	out.Steps = p.steps
	return out, nil
}
