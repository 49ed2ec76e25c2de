// Provides platform-appropriate paths for the engine.
//
// All paths follow XDG conventions on Linux and platform-native conventions
// on macOS and Windows. The daemon name "stratad" is used as the subdirectory
// under each base path. Durable state (content store, ledger, boot entries)
// lives under the state home; the manifest cache is reconstructible and lives
// under the cache home.
package paths
