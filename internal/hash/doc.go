// Package hash provides fast, hardware-accelerated hashing utilities.
//
// All key hashes in edgecache use CRC32-Castagnoli (CRC32C) which provides:
//
//   - Hardware acceleration on x86 (SSE4.2) and ARM (CRC extension)
//   - Superior error detection compared to CRC32-IEEE
//   - Industry standard (iSCSI, Btrfs, RocksDB, LevelDB)
//
// The cache store maps entry keys onto 32-bit CRC32C values for its
// per-partition presence filter.
package hash
