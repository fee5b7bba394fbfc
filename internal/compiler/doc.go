// Package compiler turns CUE assembly fixtures into il metadata.
//
// A fixture declares types, their fields and methods, and each method body
// as textual IL with labels and an exception-handler table:
//
//	type: "Demo.Counter": {
//		field: count: type: "int32"
//		method: Next: {
//			returns: "int32"
//			locals: ["int32 n"]
//			body: """
//				ldarg 0
//				ldfld Demo.Counter::count
//				stloc 0
//				ldloc 0
//				ret
//				"""
//		}
//	}
//
// Types referenced but not declared become extern stand-ins that carry only
// a name and the member signatures spelled out at their use sites.
package compiler
