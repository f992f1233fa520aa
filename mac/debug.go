package mac

import "fmt"

// Describe decodes packet just enough to produce a one-line human-readable
// summary for debug logging, mirroring the original's unconditional
// debug_packet()/debug_object() dump but gated behind the caller's log
// level instead of an unconditional print.
func Describe(packet []byte) string {
	mhr, payload, err := DecodeMHR(packet)
	if err != nil {
		return fmt.Sprintf("malformed mhr: %s", err)
	}
	s := fmt.Sprintf("type=%d seq=%d dst=%s src=%s",
		mhr.FrameControl.Type(), mhr.SeqNum, describeAddr(mhr.DstAddr, mhr.DstPANID),
		describeAddr(mhr.SrcAddr, mhr.SrcPANID))

	switch mhr.FrameControl.Type() {
	case FrameBeacon:
		bcn, _, err := DecodeBCN(payload)
		if err != nil {
			return s + fmt.Sprintf(" malformed bcn: %s", err)
		}
		s += fmt.Sprintf(" bcn{coord=%t permit=%t ssid=%q services=%v}",
			bcn.PanCoordinator(), bcn.AssociationPermit(), bcn.SSID, bcn.Services)
	case FrameCmd:
		cmd, _, err := DecodeCMD(payload)
		if err != nil {
			return s + fmt.Sprintf(" malformed cmd: %s", err)
		}
		s += fmt.Sprintf(" cmd{id=%d}", cmd.Identifier)
	}
	return s
}

func describeAddr(a Addr, panid uint16) string {
	switch a.Mode {
	case AddrShort:
		return fmt.Sprintf("%04x:%04x", panid, a.Short)
	case AddrLong:
		return fmt.Sprintf("%04x:%016x", panid, a.Long)
	default:
		return "none"
	}
}
