// Package qemu materializes guest disks and firmware with qemu-img and
// writes the launch script that boots them with qemu-system.
package qemu

import (
	"fmt"
	"strconv"

	"github.com/cochaviz/guestctl/arch"
	"github.com/cochaviz/guestctl/internal/build"
)

const (
	firmwareFile = "flash0.img"
	scriptFile   = "run.sh"
)

// machineSpec is the emulator configuration shared by the installer boot
// and the launch script. File names are joined onto Root.
type machineSpec struct {
	Profile    build.GuestProfile
	MemoryMiB  int
	CPUs       int
	Root       string
	DiskFile   string
	DiskFormat string
	// FirmwareFile and MediaPath are optional. MediaPath is used verbatim.
	FirmwareFile string
	MediaPath    string
}

func (m machineSpec) path(name string) string {
	return m.Root + "/" + name
}

// emulatorArgs returns the qemu-system arguments for m, excluding the
// accelerator and CPU model, which depend on the host running the guest.
func emulatorArgs(m machineSpec) []string {
	args := []string{
		"-machine", m.Profile.MachineType,
		"-m", strconv.Itoa(m.MemoryMiB),
		"-smp", strconv.Itoa(m.CPUs),
	}

	if m.FirmwareFile != "" {
		args = append(args, "-drive", fmt.Sprintf("if=pflash,format=raw,unit=0,readonly=on,file=%s", m.path(m.FirmwareFile)))
	}

	args = append(args, "-drive", fmt.Sprintf("file=%s,format=%s,if=virtio", m.path(m.DiskFile), m.DiskFormat))

	if m.MediaPath != "" {
		args = append(args, mediaArgs(m.Profile.MediaInterface, m.MediaPath)...)
	}

	args = append(args,
		"-netdev", "user,id=net0",
		"-device", "virtio-net-pci,netdev=net0",
	)
	return append(args, m.Profile.ExtraArgs...)
}

// mediaArgs attaches installation media as a CD-ROM. Machines without an
// IDE controller, such as arm64 virt, get it through virtio-scsi.
func mediaArgs(iface, path string) []string {
	if iface == "scsi" {
		return []string{
			"-device", "virtio-scsi-pci,id=scsi0",
			"-drive", fmt.Sprintf("file=%s,if=none,id=cd0,media=cdrom,readonly=on", path),
			"-device", "scsi-cd,drive=cd0,bus=scsi0.0,bootindex=0",
		}
	}
	return []string{
		"-drive", fmt.Sprintf("file=%s,if=ide,index=1,media=cdrom,readonly=on", path),
		"-boot", "once=d",
	}
}

// acceleration picks KVM with the host CPU when the guest matches the host,
// otherwise TCG with the profile's CPU model.
func acceleration(profile build.GuestProfile) (accel, cpu string) {
	if arch.KVMAvailableFor(profile.Arch) {
		return "kvm", "host"
	}
	return "tcg", profile.CPUModel
}

func diskFileName(format string) string {
	if format == build.DiskFormatQCOW2 {
		return "disk.qcow2"
	}
	return "disk.img"
}
