// Package password hashes and verifies principal secrets.
//
// Every digest is stored together with an algorithm tag so verification is
// version-aware. Argon2id is the primary, memory-hard algorithm and is encoded
// in the PHC string format:
//
//	$argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt_b64>$<hash_b64>
//
// Bcrypt is kept as a legacy fallback so that digests imported from older
// deployments keep verifying until they are upgraded on the next login.
//
// Stored digests are treated as untrusted input: Verify refuses parameters that
// exceed the configured cost by a wide margin.
package password
