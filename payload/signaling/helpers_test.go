package signaling_test

import "github.com/pion/webrtc/v4"

func webrtcInit(candidate string) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: candidate}
}
