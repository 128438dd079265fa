package enums

type Feature string

const (
	FeatureImage         Feature = "image"
	FeatureSticker       Feature = "sticker"
	FeatureStatusMention Feature = "status_mention"
	FeatureDemote        Feature = "demote"
	FeatureCall          Feature = "call"
)

func Features() []Feature {
	return []Feature{
		FeatureImage,
		FeatureSticker,
		FeatureStatusMention,
		FeatureDemote,
		FeatureCall,
	}
}

func ParseFeature(raw string) (Feature, bool) {
	f := Feature(raw)
	for _, known := range Features() {
		if f == known {
			return f, true
		}
	}
	return "", false
}
