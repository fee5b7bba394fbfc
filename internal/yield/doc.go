// Package yield reverses compiler-generated iterator state machines.
//
// A method whose body only constructs a nested, compiler-generated
// enumerator and copies its own parameters into it is rewritten into the
// yield-based body the enumerator was compiled from. The enumerator's
// constructor, Current getter, GetEnumerator, Dispose and MoveNext bodies are
// each decoded on their own and inspected strictly:
//
//   - Dispose is executed symbolically over {constant, state+offset, this}
//     to learn which states each extracted finally method guards.
//   - The state dispatch at the top of MoveNext is bounded the same way so
//     every resume label maps to the states that reach it.
//   - The rest of MoveNext is rewritten: stores to the current field become
//     yield return, return false becomes yield break and finally-method calls
//     become try/finally around the code since the matching state store.
//
// Any instruction outside the expected shape fails the whole transform with
// an error wrapping ErrNotApplicable. The caller's tree is only replaced
// after every check has passed.
package yield
