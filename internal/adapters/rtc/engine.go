package rtc

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"github.com/pairline/pairline/internal/domain"
)

// EnginePopulator lets a capture source register the codecs its encoders
// produce (pion/mediadevices works this way). Without one, codecs are
// registered manually in device-class preference order.
type EnginePopulator interface {
	Populate(*webrtc.MediaEngine) error
}

// codecPreference orders video codecs per device class: desktop favors VP9
// quality, mobile favors H264 hardware decode, low-power sticks to VP8.
func codecPreference(class domain.DeviceClass) []string {
	switch class {
	case domain.DeviceMobile:
		return []string{webrtc.MimeTypeH264, webrtc.MimeTypeVP8, webrtc.MimeTypeVP9}
	case domain.DeviceLowPower:
		return []string{webrtc.MimeTypeVP8, webrtc.MimeTypeH264}
	default:
		return []string{webrtc.MimeTypeVP9, webrtc.MimeTypeVP8, webrtc.MimeTypeH264}
	}
}

var videoCodecs = map[string]webrtc.RTPCodecParameters{
	webrtc.MimeTypeVP8: {
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeVP8, ClockRate: 90000,
		},
		PayloadType: 96,
	},
	webrtc.MimeTypeVP9: {
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeVP9, ClockRate: 90000, SDPFmtpLine: "profile-id=0",
		},
		PayloadType: 98,
	},
	webrtc.MimeTypeH264: {
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeH264, ClockRate: 90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42001f",
		},
		PayloadType: 102,
	},
}

func registerCodecs(me *webrtc.MediaEngine, class domain.DeviceClass) error {
	opus := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := me.RegisterCodec(opus, webrtc.RTPCodecTypeAudio); err != nil {
		return err
	}
	for _, mime := range codecPreference(class) {
		if err := me.RegisterCodec(videoCodecs[mime], webrtc.RTPCodecTypeVideo); err != nil {
			return err
		}
	}
	return nil
}

// newAPI assembles the webrtc API: media engine (capture-populated or
// class-ordered), default interceptors, and ICE timeouts generous enough to
// ride out short relay/NAT hiccups without dropping the call.
func newAPI(class domain.DeviceClass, pop EnginePopulator) (*webrtc.API, error) {
	me := &webrtc.MediaEngine{}
	if pop != nil {
		if err := pop.Populate(me); err != nil {
			return nil, err
		}
	} else if err := registerCodecs(me, class); err != nil {
		return nil, err
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, err
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(se),
	), nil
}
