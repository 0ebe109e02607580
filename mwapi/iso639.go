package mwapi

// iso639Three maps ISO 639-1 codes to their 639-3 equivalents for the
// languages commonly seen on public wikis. Unknown codes fall through to the
// two-letter code, which readers treat as an opaque language tag anyway.
var iso639Three = map[string]string{
	"aa": "aar", "ab": "abk", "af": "afr", "am": "amh", "ar": "ara",
	"az": "aze", "be": "bel", "bg": "bul", "bn": "ben", "bo": "bod",
	"br": "bre", "bs": "bos", "ca": "cat", "cs": "ces", "cy": "cym",
	"da": "dan", "de": "deu", "el": "ell", "en": "eng", "eo": "epo",
	"es": "spa", "et": "est", "eu": "eus", "fa": "fas", "fi": "fin",
	"fo": "fao", "fr": "fra", "fy": "fry", "ga": "gle", "gd": "gla",
	"gl": "glg", "gu": "guj", "he": "heb", "hi": "hin", "hr": "hrv",
	"hu": "hun", "hy": "hye", "id": "ind", "is": "isl", "it": "ita",
	"ja": "jpn", "ka": "kat", "kk": "kaz", "km": "khm", "kn": "kan",
	"ko": "kor", "ku": "kur", "ky": "kir", "la": "lat", "lb": "ltz",
	"lo": "lao", "lt": "lit", "lv": "lav", "mk": "mkd", "ml": "mal",
	"mn": "mon", "mr": "mar", "ms": "msa", "mt": "mlt", "my": "mya",
	"ne": "nep", "nl": "nld", "no": "nor", "oc": "oci", "pa": "pan",
	"pl": "pol", "ps": "pus", "pt": "por", "ro": "ron", "ru": "rus",
	"sa": "san", "sd": "snd", "si": "sin", "sk": "slk", "sl": "slv",
	"so": "som", "sq": "sqi", "sr": "srp", "sv": "swe", "sw": "swa",
	"ta": "tam", "te": "tel", "tg": "tgk", "th": "tha", "tk": "tuk",
	"tl": "tgl", "tr": "tur", "tt": "tat", "ug": "uig", "uk": "ukr",
	"ur": "urd", "uz": "uzb", "vi": "vie", "yi": "yid", "zh": "zho",
}

func iso3(iso2 string) string {
	if three, ok := iso639Three[iso2]; ok {
		return three
	}
	return iso2
}
