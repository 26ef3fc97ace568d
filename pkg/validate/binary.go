package validate

// binaryExtensions is the fixed, case-insensitive set of extensions
// that classify a file as binary (see spec.md Glossary).
var binaryExtensions = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "bmp": {}, "webp": {}, "ico": {}, "svg": {}, "tiff": {}, "tif": {},
	"pdf": {}, "doc": {}, "docx": {}, "xls": {}, "xlsx": {}, "ppt": {}, "pptx": {}, "odt": {}, "ods": {}, "odp": {},
	"zip": {}, "rar": {}, "7z": {}, "tar": {}, "gz": {}, "bz2": {}, "xz": {},
	"mp3": {}, "wav": {}, "ogg": {}, "flac": {}, "aac": {}, "wma": {}, "m4a": {},
	"mp4": {}, "avi": {}, "mkv": {}, "mov": {}, "wmv": {}, "flv": {}, "webm": {},
	"exe": {}, "dll": {}, "so": {}, "dylib": {}, "bin": {},
	"ttf": {}, "otf": {}, "woff": {}, "woff2": {}, "eot": {},
	"db": {}, "sqlite": {}, "sqlite3": {},
}
