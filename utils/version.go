package utils

// Version is overridden at build time with -ldflags "-X ...utils.Version=".
var Version = "dev"

const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
