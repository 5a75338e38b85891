package flv

// FLV file signature
const FLVSignature = "FLV"

// FLV version
const FLVVersion = 1

// FLV header size
const FLVHeaderSize = 9

// tagHeaderSize is the fixed part of every tag before its data.
const tagHeaderSize = 11

// Tag types
const (
	TagTypeAudio  = 8
	TagTypeVideo  = 9
	TagTypeScript = 18
)

// onMetaData names the script tag carrying stream metadata.
const onMetaData = "onMetaData"
