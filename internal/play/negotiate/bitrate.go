package negotiate

import "math"

// videoBitrateScaleFactor is how much more efficiently a codec compresses
// relative to h264, used to convert a bitrate measured against one codec
// into an equivalent bitrate for another.
func videoBitrateScaleFactor(codec string) float64 {
	switch codec {
	case "hevc", "vp9":
		return 0.6
	case "av1":
		return 0.5
	default:
		return 1
	}
}

// minVideoBitrate lifts a low source bitrate before using it as a transcode
// ceiling: low-bitrate sources are often under-provisioned for their
// resolution, so re-encoding them at their own bitrate looks worse than the
// source. The lift is capped by the client's requested bitrate.
func minVideoBitrate(sourceBitrate, requestedBitrate int64) int64 {
	bitrate := sourceBitrate
	switch {
	case bitrate <= 2_000_000:
		bitrate = int64(float64(bitrate) * 2.5)
	case bitrate <= 3_000_000:
		bitrate *= 2
	}
	if bitrate > requestedBitrate {
		return requestedBitrate
	}
	return bitrate
}

// videoScaleBitrate converts bitrate from input_codec's efficiency terms to
// output_codec's, then applies a floor scale factor for low bitrates so a
// tiny source bitrate isn't transcoded at an unwatchably low rate.
func videoScaleBitrate(bitrate int64, inputCodec, outputCodec string) int64 {
	scaleFactor := videoBitrateScaleFactor(outputCodec) / videoBitrateScaleFactor(inputCodec)
	switch {
	case bitrate <= 500_000:
		scaleFactor = math.Max(scaleFactor, 4)
	case bitrate <= 1_000_000:
		scaleFactor = math.Max(scaleFactor, 3)
	case bitrate <= 2_000_000:
		scaleFactor = math.Max(scaleFactor, 2.5)
	case bitrate <= 3_000_000:
		scaleFactor = math.Max(scaleFactor, 2)
	}
	return int64(scaleFactor * float64(bitrate))
}

// BitratePolicy computes the output video bitrate: start from whichever of
// the client's requested bitrate or the source's own bitrate is available,
// lift it when the source isn't being upscaled (upscaling is the only case
// allowed to ask for more bits than the source had), rescale it across the
// input/output codec efficiency gap, then re-clamp to the client's requested
// ceiling if one was given. requestedBitrate of 0 means the client didn't
// ask for a specific ceiling.
func BitratePolicy(sourceBitrate, requestedBitrate int64, upscaling bool, outputCodec, inputCodec string) int64 {
	bitrate := requestedBitrate
	if bitrate == 0 {
		bitrate = sourceBitrate
	}
	if bitrate == 0 {
		return 0
	}

	if !upscaling {
		bitrate = minVideoBitrate(sourceBitrate, bitrate)
	}

	bitrate = videoScaleBitrate(bitrate, inputCodec, outputCodec)

	if requestedBitrate > 0 && bitrate > requestedBitrate {
		bitrate = requestedBitrate
	}

	// Bufsize is derived as 2x this value downstream; keep it well clear of
	// overflow.
	const maxSafe = math.MaxInt64 / 2
	if bitrate > maxSafe {
		return maxSafe
	}
	return bitrate
}
